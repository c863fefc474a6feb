package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"kisantrack/models"
	"kisantrack/orders"
)

const (
	writeTimeout = 5 * time.Second
	flushPoll    = 5 * time.Millisecond
)

// SampleAppender is the part of the order store the persister writes through.
type SampleAppender interface {
	AppendSample(ctx context.Context, id string, s models.Sample) (models.Sample, error)
}

// Persister queues samples per order and writes them in arrival order. One
// worker runs per order with pending samples, so different orders never
// contend and no producer waits on storage.
type Persister struct {
	store    SampleAppender
	log      *zap.Logger
	limit    int
	onClosed func(orderID string)

	mu      sync.Mutex
	queues  map[string][]models.Sample
	stopped bool
	dropped uint64
}

func NewPersister(store SampleAppender, logger *zap.Logger, limit int, onClosed func(string)) *Persister {
	if limit <= 0 {
		limit = 64
	}
	return &Persister{
		store:    store,
		log:      logger,
		limit:    limit,
		onClosed: onClosed,
		queues:   make(map[string][]models.Sample),
	}
}

// Enqueue schedules s for the order. When the queue is full the oldest pending
// sample is dropped. It reports false once the persister is stopped.
func (p *Persister) Enqueue(orderID string, s models.Sample) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	q, running := p.queues[orderID]
	if len(q) >= p.limit {
		p.dropped++
		p.log.Warn("persist queue full, dropping oldest sample",
			zap.String("orderId", orderID), zap.Int("limit", p.limit))
		q = q[1:]
	}
	p.queues[orderID] = append(q, s)
	if !running {
		go p.drain(orderID)
	}
	return true
}

func (p *Persister) drain(orderID string) {
	for {
		p.mu.Lock()
		q := p.queues[orderID]
		if len(q) == 0 {
			delete(p.queues, orderID)
			p.mu.Unlock()
			return
		}
		s := q[0]
		p.queues[orderID] = q[1:]
		p.mu.Unlock()

		p.write(orderID, s)
	}
}

func (p *Persister) write(orderID string, s models.Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := p.store.AppendSample(ctx, orderID, s)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrInvalidID), errors.Is(err, orders.ErrNotFound):
		p.log.Warn("dropping sample for unknown order", zap.String("orderId", orderID), zap.Error(err))
	case errors.Is(err, orders.ErrOrderClosed):
		p.log.Info("ignoring sample for delivered order", zap.String("orderId", orderID))
		if p.onClosed != nil {
			p.onClosed(orderID)
		}
	default:
		p.log.Error("persist sample failed", zap.String("orderId", orderID), zap.Error(err))
	}
}

// Pending is the number of orders with queued or in-flight samples.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

// Dropped counts samples discarded because a queue overflowed.
func (p *Persister) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Flush waits until every queue has drained or ctx is done.
func (p *Persister) Flush(ctx context.Context) error {
	t := time.NewTicker(flushPoll)
	defer t.Stop()
	for p.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Stop refuses new samples and flushes what is already queued.
func (p *Persister) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return p.Flush(ctx)
}
