package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/hub"
	"kisantrack/middleware"
	"kisantrack/orders"
	"kisantrack/ratelim"
	"kisantrack/tracking"
)

func newRouter(t *testing.T) *httprouter.Router {
	t.Helper()
	log := zap.NewNop()
	store := orders.NewMemoryStore()
	svc := orders.NewService(store, log, 50)
	hb := hub.New(store, log, hub.Options{})
	runner := tracking.NewRunner(hb.Broadcaster(), store, log, time.Hour, 10)
	t.Cleanup(runner.StopAll)

	router := httprouter.New()
	RoutesWrapper(router, Deps{
		Orders:      orders.NewHandler(svc, hb, log),
		Store:       store,
		Tracking:    tracking.NewHandler(store, runner, log),
		Hub:         hb,
		Auth:        middleware.NewAuth(""),
		RateLimiter: ratelim.NewRateLimiter(100, 100, time.Minute),
		Logger:      log,
	})
	return router
}

func TestRouteTable(t *testing.T) {
	r := newRouter(t)

	body, _ := json.Marshal(map[string]any{
		"productName":  "Fresh Organic Tomato",
		"quantity":     5,
		"totalPrice":   200,
		"buyerAddress": "Chennai",
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var created struct {
		ID           string `json:"id"`
		TrackingCode string `json:"trackingCode"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	paths := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/orders", http.StatusOK},
		{http.MethodGet, "/orders/track/" + created.TrackingCode, http.StatusOK},
		{http.MethodGet, "/orders/track/KD-ZZZZZZ", http.StatusNotFound},
		{http.MethodGet, "/orders/id/" + created.ID, http.StatusOK},
		{http.MethodGet, "/orders/id/" + created.ID + "/route.png", http.StatusOK},
		{http.MethodGet, "/orders/id/" + created.ID + "/label", http.StatusOK},
		{http.MethodGet, "/orders/simulations", http.StatusOK},
		{http.MethodPost, "/orders/id/" + created.ID + "/received", http.StatusConflict},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		if rec.Code != p.want {
			t.Errorf("%s %s: %d, want %d", p.method, p.path, rec.Code, p.want)
		}
	}
}
