package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"kisantrack/hub"
	"kisantrack/models"
	"kisantrack/orders"
)

var ErrAlreadyDelivered = errors.New("order already delivered")

// Publisher is where simulated samples go; *hub.Broadcaster satisfies it.
type Publisher interface {
	Publish(senderID string, loc hub.Location) error
}

// StatusAdvancer applies derived statuses; any orders.Store satisfies it.
type StatusAdvancer interface {
	AdvanceStatus(ctx context.Context, id string, s models.Status) (models.Status, error)
}

type run struct {
	cancel context.CancelFunc
	sim    *Simulator
}

// Runner drives one simulator per order on the server, standing in for a
// live carrier feed.
type Runner struct {
	pub   Publisher
	store StatusAdvancer
	log   *zap.Logger
	tick  time.Duration
	step  int

	base   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*run
	wg     sync.WaitGroup
}

func NewRunner(pub Publisher, store StatusAdvancer, logger *zap.Logger, tick time.Duration, step int) *Runner {
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		pub:    pub,
		store:  store,
		log:    logger,
		tick:   tick,
		step:   step,
		base:   base,
		cancel: cancel,
		active: make(map[string]*run),
	}
}

// SenderID is the channel identity the simulator publishes under.
func SenderID(orderID string) string { return "sim:" + orderID }

// Start begins simulating o from its current location to its destination.
// It reports false when a simulation for o is already running.
func (r *Runner) Start(o *models.Order) (bool, error) {
	if o.Status == models.StatusDelivered {
		return false, ErrAlreadyDelivered
	}
	id := o.HexID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base.Err() != nil {
		return false, hub.ErrHubClosed
	}
	if _, ok := r.active[id]; ok {
		return false, nil
	}
	ctx, cancel := context.WithCancel(r.base)
	rn := &run{cancel: cancel, sim: NewSimulator(o.CurrentLocation, o.DestLocation, r.step)}
	r.active[id] = rn

	r.wg.Add(1)
	go r.drive(ctx, id, rn)
	r.log.Info("simulation started", zap.String("orderId", id), zap.String("trackingCode", o.TrackingCode))
	return true, nil
}

func (r *Runner) drive(ctx context.Context, id string, rn *run) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if r.active[id] == rn {
			delete(r.active, id)
		}
		r.mu.Unlock()
		rn.cancel()
	}()

	var shown models.Status
	err := rn.sim.Run(ctx, r.tick, func(st State) error {
		status := r.advance(ctx, id, st)
		if status.Before(shown) {
			status = shown
		}
		shown = status
		return r.pub.Publish(SenderID(id), hub.Location{
			OrderID: id,
			Lat:     st.Position.Lat,
			Lng:     st.Position.Lng,
			Status:  status,
		})
	})
	switch {
	case err == nil:
		r.log.Info("simulation finished", zap.String("orderId", id))
	case errors.Is(err, context.Canceled):
		r.log.Info("simulation stopped", zap.String("orderId", id), zap.Int("progress", rn.sim.State().Progress))
	case errors.Is(err, hub.ErrOrderDelivered):
		r.log.Info("simulation ended by delivery", zap.String("orderId", id))
	default:
		r.log.Warn("simulation aborted", zap.String("orderId", id), zap.Error(err))
	}
}

// advance moves the stored status forward and returns the status viewers
// should see. A restarted run lags an order that is already further along,
// so the stored status wins over the derived one.
func (r *Runner) advance(ctx context.Context, id string, st State) models.Status {
	stored, err := r.store.AdvanceStatus(ctx, id, st.Status)
	switch {
	case err == nil, errors.Is(err, orders.ErrStatusRegression):
		if stored != "" {
			return stored
		}
	default:
		r.log.Warn("advance status failed",
			zap.String("orderId", id), zap.String("status", string(st.Status)),
			zap.Int("progress", st.Progress), zap.Error(err))
	}
	return st.Status
}

// Stop cancels the order's simulation and reports whether one was running.
func (r *Runner) Stop(orderID string) bool {
	r.mu.Lock()
	rn, ok := r.active[orderID]
	if ok {
		delete(r.active, orderID)
	}
	r.mu.Unlock()
	if ok {
		rn.cancel()
	}
	return ok
}

// StopAll cancels every simulation and waits for them to exit. The runner
// accepts no new simulations afterwards.
func (r *Runner) StopAll() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

// Active lists the order ids with a running simulation.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Progress reports the simulation's progress for the order, if one is running.
func (r *Runner) Progress(orderID string) (int, bool) {
	r.mu.Lock()
	rn, ok := r.active[orderID]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return rn.sim.State().Progress, true
}
