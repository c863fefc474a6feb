package routes

import (
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/hub"
	"kisantrack/middleware"
	"kisantrack/orders"
	"kisantrack/ratelim"
	"kisantrack/tracking"
)

// Deps is everything the route table hands out to handlers.
type Deps struct {
	Orders      *orders.Handler
	Store       orders.Store
	Tracking    *tracking.Handler
	Hub         *hub.Hub
	Auth        *middleware.Auth
	RateLimiter *ratelim.RateLimiter
	Logger      *zap.Logger
}

func RoutesWrapper(router *httprouter.Router, d Deps) {
	router.GET("/health", Index)
	AddOrderRoutes(router, d.Orders, d.Store, d.Auth, d.RateLimiter, d.Logger)
	AddTrackingRoutes(router, d.Tracking, d.Hub, d.Auth)
}
