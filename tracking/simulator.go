package tracking

import (
	"context"
	"sync"
	"time"

	"kisantrack/models"
)

const (
	MaxProgress = 100
	DefaultStep = 10
	DefaultTick = 3 * time.Second
)

// ClampProgress limits p to [0, 100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > MaxProgress:
		return MaxProgress
	}
	return p
}

// Interpolate places a point on the straight segment from start to end.
// Progress is a percentage and is clamped to [0, 100].
func Interpolate(start, end models.LatLng, progress int) models.LatLng {
	p := ClampProgress(progress)
	switch p {
	case 0:
		return start
	case MaxProgress:
		return end
	}
	f := float64(p) / MaxProgress
	return models.LatLng{
		Lat: start.Lat + (end.Lat-start.Lat)*f,
		Lng: start.Lng + (end.Lng-start.Lng)*f,
	}
}

// Classify maps progress to the status it implies. Delivered is never derived
// from progress.
func Classify(progress int) models.Status {
	switch p := ClampProgress(progress); {
	case p < 30:
		return models.StatusPlaced
	case p < 70:
		return models.StatusPickedUp
	case p < MaxProgress:
		return models.StatusInTransit
	default:
		return models.StatusArriving
	}
}

// State is one simulated step.
type State struct {
	Progress int
	Position models.LatLng
	Status   models.Status
}

// Simulator moves a carrier from start to end in fixed progress steps.
type Simulator struct {
	mu       sync.Mutex
	start    models.LatLng
	end      models.LatLng
	step     int
	progress int
}

func NewSimulator(start, end models.LatLng, step int) *Simulator {
	if step <= 0 || step > MaxProgress {
		step = DefaultStep
	}
	return &Simulator{start: start, end: end, step: step}
}

func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Simulator) stateLocked() State {
	return State{
		Progress: s.progress,
		Position: Interpolate(s.start, s.end, s.progress),
		Status:   Classify(s.progress),
	}
}

// Tick advances progress by one step. Once progress is 100 it does nothing
// and reports false.
func (s *Simulator) Tick() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress >= MaxProgress {
		return s.stateLocked(), false
	}
	s.progress = ClampProgress(s.progress + s.step)
	return s.stateLocked(), true
}

func (s *Simulator) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress >= MaxProgress
}

// Run publishes the current state, then one state per tick until progress
// reaches 100 or ctx is done. A publish error stops the run.
func (s *Simulator) Run(ctx context.Context, tick time.Duration, publish func(State) error) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	if err := publish(s.State()); err != nil {
		return err
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for !s.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			st, moved := s.Tick()
			if !moved {
				return nil
			}
			if err := publish(st); err != nil {
				return err
			}
		}
	}
	return nil
}
