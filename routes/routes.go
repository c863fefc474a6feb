package routes

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/hub"
	"kisantrack/labels"
	"kisantrack/maps"
	"kisantrack/middleware"
	"kisantrack/orders"
	"kisantrack/ratelim"
	"kisantrack/tracking"
)

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

func AddOrderRoutes(router *httprouter.Router, h *orders.Handler, store orders.Store, auth *middleware.Auth, rl *ratelim.RateLimiter, logger *zap.Logger) {
	router.POST("/orders", auth.OptionalAuth(h.CreateOrder))
	router.GET("/orders", auth.OptionalAuth(h.ListOrders))
	router.GET("/orders/track/:code", rl.Limit(h.TrackOrder))
	router.GET("/orders/id/:id", h.GetOrder)
	router.POST("/orders/id/:id/rate", auth.OptionalAuth(h.RateOrder))
	router.POST("/orders/id/:id/received", auth.OptionalAuth(h.MarkReceived))
	router.GET("/orders/id/:id/label", labels.PrintLabel(store, logger))
	router.GET("/orders/id/:id/route.png", maps.GetRouteImage(store, logger))
}

func AddTrackingRoutes(router *httprouter.Router, h *tracking.Handler, hb *hub.Hub, auth *middleware.Auth) {
	router.GET("/ws", auth.OptionalAuth(hb.ServeWS))
	router.GET("/orders/simulations", h.ListSimulations)
	router.POST("/orders/id/:id/simulate", auth.OptionalAuth(h.StartSimulation))
	router.DELETE("/orders/id/:id/simulate", auth.OptionalAuth(h.StopSimulation))
}
