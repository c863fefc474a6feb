package maps

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/models"
	"kisantrack/orders"
)

func testOrder() *models.Order {
	farm := models.LatLng{Lat: 12.97, Lng: 77.59}
	dest := models.LatLng{Lat: 13.08, Lng: 80.27}
	mid := models.LatLng{Lat: 13.02, Lng: 78.9}
	return &models.Order{
		TrackingCode:    "KD-MAP001",
		FarmLocation:    farm,
		DestLocation:    dest,
		CurrentLocation: mid,
		TrackingHistory: []models.Sample{
			{Lat: farm.Lat, Lng: farm.Lng, Timestamp: time.Unix(0, 0)},
			{Lat: mid.Lat, Lng: mid.Lng, Timestamp: time.Unix(3, 0)},
		},
	}
}

func TestClampWidth(t *testing.T) {
	cases := map[int]int{0: DefaultWidth, -3: DefaultWidth, 10: MinWidth, 500: 500, 5000: MaxWidth}
	for in, want := range cases {
		if got := ClampWidth(in); got != want {
			t.Errorf("ClampWidth(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRenderRouteSize(t *testing.T) {
	for _, w := range []int{64, 320, 1024} {
		img := RenderRoute(testOrder(), w)
		if b := img.Bounds(); b.Dx() != w || b.Dy() != w {
			t.Errorf("width %d: got %v", w, b)
		}
	}
}

func TestRenderRouteDrawsMarkers(t *testing.T) {
	o := testOrder()
	img := RenderRoute(o, MaxWidth)
	proj := newProjection([]models.LatLng{o.FarmLocation, o.DestLocation, o.CurrentLocation})
	p := proj.point(o.DestLocation)
	r, g, b, _ := img.At(p.X, p.Y).RGBA()
	if r>>8 < 0xa0 || g>>8 > 0x60 || b>>8 > 0x60 {
		t.Fatalf("destination marker not drawn, pixel = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestRenderRouteDegenerate(t *testing.T) {
	o := &models.Order{}
	if img := RenderRoute(o, 100); img.Bounds().Dx() != 100 {
		t.Fatalf("bounds %v", img.Bounds())
	}
}

func TestGetRouteImage(t *testing.T) {
	store := orders.NewMemoryStore()
	o := testOrder()
	if err := store.Create(context.Background(), o); err != nil {
		t.Fatalf("create: %v", err)
	}
	r := httprouter.New()
	r.GET("/orders/id/:id/route.png", GetRouteImage(store, zap.NewNop()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/id/"+o.HexID()+"/route.png?w=128", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Fatalf("width %d", img.Bounds().Dx())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/id/65f000000000000000000009/route.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", rec.Code)
	}
}
