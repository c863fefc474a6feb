package tracking

import (
	"context"
	"testing"
	"time"

	"kisantrack/models"
)

func TestInterpolateMidpoint(t *testing.T) {
	got := Interpolate(models.LatLng{}, models.LatLng{Lat: 10, Lng: 10}, 50)
	if got != (models.LatLng{Lat: 5, Lng: 5}) {
		t.Fatalf("got %+v, want (5,5)", got)
	}
}

func TestInterpolateEnds(t *testing.T) {
	start := models.LatLng{Lat: 12.97, Lng: 77.59}
	end := models.LatLng{Lat: 13.08, Lng: 80.27}
	if got := Interpolate(start, end, 0); got != start {
		t.Errorf("progress 0: %+v", got)
	}
	if got := Interpolate(start, end, 100); got != end {
		t.Errorf("progress 100: %+v", got)
	}
	if got := Interpolate(start, end, 150); got != end {
		t.Errorf("progress past 100 should clamp: %+v", got)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		progress int
		want     models.Status
	}{
		{0, models.StatusPlaced},
		{29, models.StatusPlaced},
		{30, models.StatusPickedUp},
		{69, models.StatusPickedUp},
		{70, models.StatusInTransit},
		{99, models.StatusInTransit},
		{100, models.StatusArriving},
		{-5, models.StatusPlaced},
	}
	for _, c := range cases {
		if got := Classify(c.progress); got != c.want {
			t.Errorf("Classify(%d) = %q, want %q", c.progress, got, c.want)
		}
	}
}

func TestTerminalTickIsIdempotent(t *testing.T) {
	s := NewSimulator(models.LatLng{}, models.LatLng{Lat: 1, Lng: 1}, 10)
	for s.progress < MaxProgress {
		s.Tick()
	}
	before := s.State()
	for i := 0; i < 3; i++ {
		st, moved := s.Tick()
		if moved || st != before {
			t.Fatalf("tick after 100 changed state: %+v moved=%v", st, moved)
		}
	}
}

func TestUnevenStepStopsAtHundred(t *testing.T) {
	s := NewSimulator(models.LatLng{}, models.LatLng{Lat: 1, Lng: 1}, 30)
	var last State
	for {
		st, moved := s.Tick()
		if !moved {
			break
		}
		last = st
	}
	if last.Progress != 100 || last.Status != models.StatusArriving {
		t.Fatalf("last state %+v", last)
	}
}

func TestRunScenario(t *testing.T) {
	farm := models.LatLng{Lat: 12.97, Lng: 77.59}
	dest := models.LatLng{Lat: 13.08, Lng: 80.27}
	s := NewSimulator(farm, dest, 10)

	var states []State
	err := s.Run(context.Background(), time.Millisecond, func(st State) error {
		states = append(states, st)
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(states) != 11 {
		t.Fatalf("got %d samples, want 11", len(states))
	}
	if states[10].Position != dest {
		t.Fatalf("last sample %+v, want destination", states[10].Position)
	}
	want := []models.Status{
		models.StatusPlaced, models.StatusPlaced, models.StatusPlaced,
		models.StatusPickedUp, models.StatusPickedUp, models.StatusPickedUp, models.StatusPickedUp,
		models.StatusInTransit, models.StatusInTransit, models.StatusInTransit,
		models.StatusArriving,
	}
	for i, st := range states {
		if st.Progress != i*10 || st.Status != want[i] {
			t.Fatalf("state %d = %+v, want progress %d status %q", i, st, i*10, want[i])
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewSimulator(models.LatLng{}, models.LatLng{Lat: 1, Lng: 1}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := s.Run(ctx, time.Hour, func(State) error {
		n++
		cancel()
		return nil
	})
	if err != context.Canceled || n != 1 {
		t.Fatalf("err=%v publishes=%d", err, n)
	}
}
