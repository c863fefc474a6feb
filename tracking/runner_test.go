package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/hub"
	"kisantrack/models"
	"kisantrack/orders"
)

type viewer struct {
	mu     sync.Mutex
	events []map[string]any
}

func (v *viewer) ID() string { return "viewer" }

func (v *viewer) Deliver(data []byte) bool {
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		return false
	}
	v.mu.Lock()
	v.events = append(v.events, ev)
	v.mu.Unlock()
	return true
}

func (v *viewer) snapshot() []map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]map[string]any(nil), v.events...)
}

type fixture struct {
	store   *orders.MemoryStore
	reg     *hub.Registry
	persist *hub.Persister
	runner  *Runner
}

func newFixture(tick time.Duration) *fixture {
	store := orders.NewMemoryStore()
	reg := hub.NewRegistry(time.Minute)
	persist := hub.NewPersister(store, zap.NewNop(), 64, nil)
	bc := hub.NewBroadcaster(reg, persist, zap.NewNop())
	return &fixture{
		store:   store,
		reg:     reg,
		persist: persist,
		runner:  NewRunner(bc, store, zap.NewNop(), tick, 10),
	}
}

func (f *fixture) order(t *testing.T, code string, farm, dest models.LatLng) *models.Order {
	t.Helper()
	o := &models.Order{
		TrackingCode:    code,
		ProductName:     "Fresh Organic Tomato",
		Quantity:        5,
		Status:          models.StatusPlaced,
		FarmLocation:    farm,
		CurrentLocation: farm,
		DestLocation:    dest,
	}
	if err := f.store.Create(context.Background(), o); err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func TestRunnerScenario(t *testing.T) {
	f := newFixture(time.Millisecond)
	defer f.runner.StopAll()
	farm := models.LatLng{Lat: 12.97, Lng: 77.59}
	dest := models.LatLng{Lat: 13.08, Lng: 80.27}
	o := f.order(t, "KD-1001", farm, dest)
	id := o.HexID()

	v := &viewer{}
	f.reg.Join(id, v)

	started, err := f.runner.Start(o)
	if err != nil || !started {
		t.Fatalf("start: %v %v", started, err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(f.runner.Active()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("simulation did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.persist.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	events := v.snapshot()
	if len(events) != 11 {
		t.Fatalf("viewer got %d samples, want 11", len(events))
	}
	wantStatus := []models.Status{
		models.StatusPlaced, models.StatusPlaced, models.StatusPlaced,
		models.StatusPickedUp, models.StatusPickedUp, models.StatusPickedUp, models.StatusPickedUp,
		models.StatusInTransit, models.StatusInTransit, models.StatusInTransit,
		models.StatusArriving,
	}
	for i, ev := range events {
		if ev["status"] != string(wantStatus[i]) {
			t.Fatalf("sample %d status %v, want %q", i, ev["status"], wantStatus[i])
		}
	}
	last := events[10]
	if last["lat"] != dest.Lat || last["lng"] != dest.Lng {
		t.Fatalf("last sample %v, want destination", last)
	}

	got, err := f.store.GetByTrackingCode(context.Background(), "KD-1001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Status != models.StatusArriving {
		t.Fatalf("stored status %q", got.Status)
	}
	if len(got.TrackingHistory) != 11 || got.CurrentLocation != dest {
		t.Fatalf("history %d current %+v", len(got.TrackingHistory), got.CurrentLocation)
	}
	for i := 1; i < len(got.TrackingHistory); i++ {
		if got.TrackingHistory[i].Timestamp.Before(got.TrackingHistory[i-1].Timestamp) {
			t.Fatalf("history not monotonic at %d", i)
		}
	}
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for len(r.Active()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("simulation did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunnerRestartKeepsStoredStatus(t *testing.T) {
	f := newFixture(time.Millisecond)
	defer f.runner.StopAll()
	farm := models.LatLng{Lat: 12.97, Lng: 77.59}
	dest := models.LatLng{Lat: 13.08, Lng: 80.27}
	o := f.order(t, "KD-1005", farm, dest)
	id := o.HexID()

	mid := Interpolate(farm, dest, 60)
	if _, err := f.store.AppendSample(context.Background(), id, models.Sample{Lat: mid.Lat, Lng: mid.Lng}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := f.store.AdvanceStatus(context.Background(), id, models.StatusInTransit); err != nil {
		t.Fatalf("advance: %v", err)
	}
	o, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if o.CurrentLocation == farm {
		t.Fatal("current location should have moved off the farm")
	}

	v := &viewer{}
	f.reg.Join(id, v)
	if ok, err := f.runner.Start(o); err != nil || !ok {
		t.Fatalf("start: %v %v", ok, err)
	}
	waitIdle(t, f.runner)

	events := v.snapshot()
	if len(events) != 11 {
		t.Fatalf("viewer got %d samples, want 11", len(events))
	}
	if events[0]["lat"] != mid.Lat || events[0]["lng"] != mid.Lng {
		t.Fatalf("first sample %v, want the current location %+v", events[0], mid)
	}
	prev := models.StatusInTransit
	for i, ev := range events {
		s, _ := ev["status"].(string)
		got := models.Status(s)
		if !got.Valid() || got.Before(prev) {
			t.Fatalf("sample %d status %q after %q", i, got, prev)
		}
		prev = got
	}
	if prev != models.StatusArriving {
		t.Fatalf("last status %q, want %q", prev, models.StatusArriving)
	}

	stored, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.Status != models.StatusArriving {
		t.Fatalf("stored status %q", stored.Status)
	}
}

func TestRunnerStartStop(t *testing.T) {
	f := newFixture(time.Hour)
	defer f.runner.StopAll()
	o := f.order(t, "KD-1002", models.LatLng{}, models.LatLng{Lat: 1, Lng: 1})

	if ok, _ := f.runner.Start(o); !ok {
		t.Fatal("first start should run")
	}
	if ok, _ := f.runner.Start(o); ok {
		t.Fatal("second start should be a no-op")
	}
	if got := f.runner.Active(); len(got) != 1 || got[0] != o.HexID() {
		t.Fatalf("active = %v", got)
	}
	if !f.runner.Stop(o.HexID()) {
		t.Fatal("stop should report a running simulation")
	}
	if f.runner.Stop(o.HexID()) {
		t.Fatal("second stop should report nothing running")
	}

	o.Status = models.StatusDelivered
	if _, err := f.runner.Start(o); err != ErrAlreadyDelivered {
		t.Fatalf("delivered order: %v", err)
	}
}

func TestRunnerRefusesAfterStopAll(t *testing.T) {
	f := newFixture(time.Hour)
	o := f.order(t, "KD-1003", models.LatLng{}, models.LatLng{Lat: 1, Lng: 1})
	f.runner.StopAll()
	if _, err := f.runner.Start(o); err != hub.ErrHubClosed {
		t.Fatalf("start after StopAll: %v", err)
	}
}

func TestSimulationHandlers(t *testing.T) {
	f := newFixture(time.Hour)
	defer f.runner.StopAll()
	o := f.order(t, "KD-1004", models.LatLng{}, models.LatLng{Lat: 1, Lng: 1})
	h := NewHandler(f.store, f.runner, zap.NewNop())
	r := httprouter.New()
	r.POST("/orders/id/:id/simulate", h.StartSimulation)
	r.DELETE("/orders/id/:id/simulate", h.StopSimulation)
	r.GET("/orders/simulations", h.ListSimulations)

	call := func(method, path string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		var body map[string]any
		_ = json.NewDecoder(rec.Body).Decode(&body)
		return rec.Code, body
	}

	if code, _ := call(http.MethodPost, "/orders/id/65f000000000000000000009/simulate"); code != http.StatusNotFound {
		t.Fatalf("unknown order: %d", code)
	}
	if code, _ := call(http.MethodPost, "/orders/id/bogus/simulate"); code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", code)
	}
	path := "/orders/id/" + o.HexID() + "/simulate"
	if code, body := call(http.MethodPost, path); code != http.StatusAccepted || body["started"] != true {
		t.Fatalf("start: %d %v", code, body)
	}
	if code, body := call(http.MethodPost, path); code != http.StatusAccepted || body["started"] != false {
		t.Fatalf("restart: %d %v", code, body)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/simulations", nil))
	var list []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}

	if code, body := call(http.MethodDelete, path); code != http.StatusOK || body["stopped"] != true {
		t.Fatalf("stop: %d %v", code, body)
	}
}
