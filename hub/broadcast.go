package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"kisantrack/models"
)

var (
	ErrHubClosed       = errors.New("hub is closed")
	ErrInvalidLocation = errors.New("lat must be within [-90,90] and lng within [-180,180]")
	ErrMissingOrderID  = errors.New("orderId is required")
	ErrOrderDelivered  = errors.New("order already delivered")
)

const (
	ActionJoin      = "join_order_room"
	ActionLeave     = "leave_order_room"
	ActionSend      = "send_location"
	ActionReceive   = "receive_location"
	ActionDelivered = "order_delivered"
	ActionError     = "error"
)

// Location is one position sample for an order.
type Location struct {
	OrderID   string        `json:"orderId"`
	Lat       float64       `json:"lat"`
	Lng       float64       `json:"lng"`
	Timestamp time.Time     `json:"timestamp"`
	Status    models.Status `json:"status,omitempty"`
}

func (l Location) sample() models.Sample {
	return models.Sample{Lat: l.Lat, Lng: l.Lng, Timestamp: l.Timestamp}
}

type locationEvent struct {
	Action string `json:"action"`
	Location
}

type noticeEvent struct {
	Action  string `json:"action"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Relay carries samples to other instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

const (
	relayQueue   = 256
	relayTimeout = time.Second
)

// Broadcaster fans samples out to a channel's members and hands them to the
// persister and the relay. None of the three waits on another.
type Broadcaster struct {
	reg     *Registry
	persist *Persister
	relay   atomic.Pointer[relayHolder]
	relayQ  chan Envelope
	log     *zap.Logger
	now     func() time.Time
	dropped atomic.Uint64
	relayed atomic.Uint64
	lost    atomic.Uint64
}

type relayHolder struct{ r Relay }

func NewBroadcaster(reg *Registry, persist *Persister, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		reg:     reg,
		persist: persist,
		relayQ:  make(chan Envelope, relayQueue),
		log:     logger,
		now:     time.Now,
	}
}

// SetRelay makes Publish queue envelopes for r. Nothing is sent until
// RunRelay drains the queue.
func (b *Broadcaster) SetRelay(r Relay) {
	b.relay.Store(&relayHolder{r: r})
}

// RunRelay sends queued envelopes to the relay one at a time until ctx is
// done.
func (b *Broadcaster) RunRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.relayQ:
			h := b.relay.Load()
			if h == nil || h.r == nil {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, relayTimeout)
			err := h.r.Publish(pctx, env)
			cancel()
			if err != nil {
				b.log.Warn("relay publish failed",
					zap.String("orderId", env.OrderID), zap.String("kind", env.Kind), zap.Error(err))
				continue
			}
			b.relayed.Add(1)
		}
	}
}

// queueRelay never blocks: when the relay falls behind the envelope is lost.
func (b *Broadcaster) queueRelay(env Envelope) bool {
	if h := b.relay.Load(); h == nil || h.r == nil {
		return false
	}
	select {
	case b.relayQ <- env:
		return true
	default:
		b.lost.Add(1)
		b.log.Debug("relay queue full, envelope dropped",
			zap.String("orderId", env.OrderID), zap.String("kind", env.Kind))
		return false
	}
}

// Publish delivers loc to every member of the order's channel except the
// sender, relays it, and queues it for persistence.
func (b *Broadcaster) Publish(senderID string, loc Location) error {
	if loc.OrderID == "" {
		return ErrMissingOrderID
	}
	if !(models.LatLng{Lat: loc.Lat, Lng: loc.Lng}).Valid() {
		return ErrInvalidLocation
	}
	if b.reg.IsClosed(loc.OrderID) {
		return ErrOrderDelivered
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = b.now()
	}
	loc.Timestamp = loc.Timestamp.UTC().Truncate(time.Millisecond)

	b.fanOut(senderID, loc)

	b.queueRelay(Envelope{Kind: KindSample, Conn: senderID, OrderID: loc.OrderID,
		Lat: loc.Lat, Lng: loc.Lng, Timestamp: loc.Timestamp, Status: string(loc.Status)})

	if b.persist != nil && !b.persist.Enqueue(loc.OrderID, loc.sample()) {
		return ErrHubClosed
	}
	return nil
}

// fanOut never blocks: a member whose buffer is full misses this sample.
func (b *Broadcaster) fanOut(senderID string, loc Location) int {
	data, err := json.Marshal(locationEvent{Action: ActionReceive, Location: loc})
	if err != nil {
		b.log.Error("encode location", zap.Error(err))
		return 0
	}
	sent := 0
	for _, m := range b.reg.Members(loc.OrderID) {
		if m.ID() == senderID {
			continue
		}
		if m.Deliver(data) {
			sent++
			continue
		}
		b.dropped.Add(1)
		b.log.Debug("recipient buffer full, sample dropped",
			zap.String("orderId", loc.OrderID), zap.String("conn", m.ID()))
	}
	return sent
}

// Dropped counts fan-out deliveries skipped because a recipient was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Relayed counts envelopes handed to the relay.
func (b *Broadcaster) Relayed() uint64 { return b.relayed.Load() }

// RelayDropped counts envelopes lost because the relay queue was full.
func (b *Broadcaster) RelayDropped() uint64 { return b.lost.Load() }

func encodeNotice(action, orderID, msg string) []byte {
	data, _ := json.Marshal(noticeEvent{Action: action, OrderID: orderID, Error: msg})
	return data
}
