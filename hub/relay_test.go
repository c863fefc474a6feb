package hub

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestEnvelopeCodec(t *testing.T) {
	for _, in := range []Envelope{
		{
			Kind:      KindSample,
			Instance:  "i-1",
			Conn:      "c-1",
			OrderID:   "65f000000000000000000001",
			Lat:       12.97,
			Lng:       77.59,
			Timestamp: time.UnixMilli(1700000000123).UTC(),
			Status:    "In Transit",
		},
		{
			Kind:      KindDelivered,
			Instance:  "i-2",
			OrderID:   "65f000000000000000000001",
			Timestamp: time.UnixMilli(1700000000456).UTC(),
		},
	} {
		data, err := EncodeEnvelope(in)
		if err != nil {
			t.Fatalf("encode %s: %v", in.Kind, err)
		}
		out, err := DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("decode %s: %v", in.Kind, err)
		}
		if !out.Timestamp.Equal(in.Timestamp) {
			t.Fatalf("%s: timestamp %v != %v", in.Kind, out.Timestamp, in.Timestamp)
		}
		out.Timestamp = in.Timestamp
		if out != in {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
		}
	}
	if _, err := DecodeEnvelope([]byte{0xc1}); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

// stalledRelay holds every publish until its context ends.
type stalledRelay struct {
	mu    sync.Mutex
	calls int
}

func (r *stalledRelay) Publish(ctx context.Context, _ Envelope) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

type recordingRelay struct {
	got chan Envelope
}

func (r *recordingRelay) Publish(_ context.Context, env Envelope) error {
	r.got <- env
	return nil
}

// chanMember is a Member that can be read from another goroutine.
type chanMember struct {
	id  string
	got chan []byte
}

func (m *chanMember) ID() string { return m.id }

func (m *chanMember) Deliver(data []byte) bool {
	select {
	case m.got <- data:
		return true
	default:
		return false
	}
}

func TestPublishDoesNotWaitOnRelay(t *testing.T) {
	store := &recordingStore{}
	b, reg, p := newTestBroadcaster(store)
	relay := &stalledRelay{}
	b.SetRelay(relay)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunRelay(ctx)

	viewer := &fakeMember{id: "v"}
	reg.Join("o1", viewer)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Publish("p", Location{OrderID: "o1", Lat: float64(i), Lng: 1}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if took := time.Since(start); took > 250*time.Millisecond {
		t.Fatalf("3 samples took %v with a stalled relay", took)
	}
	if len(viewer.got) != 3 {
		t.Fatalf("viewer got %d samples", len(viewer.got))
	}
	flush(t, p)
	if got := store.get("o1"); len(got) != 3 {
		t.Fatalf("persisted %d samples", len(got))
	}
}

func TestRelayQueueOverflowCounts(t *testing.T) {
	b, _, _ := newTestBroadcaster(&recordingStore{})
	b.relayQ = make(chan Envelope, 2)
	b.SetRelay(&stalledRelay{})
	for i := 0; i < 5; i++ {
		if err := b.Publish("p", Location{OrderID: "o1", Lat: 1, Lng: 1}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := b.RelayDropped(); got != 3 {
		t.Fatalf("relay dropped %d, want 3", got)
	}
}

func TestRelayWithoutTargetQueuesNothing(t *testing.T) {
	b, _, _ := newTestBroadcaster(&recordingStore{})
	if err := b.Publish("p", Location{OrderID: "o1", Lat: 1, Lng: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(b.relayQ) != 0 || b.RelayDropped() != 0 {
		t.Fatalf("queued %d dropped %d", len(b.relayQ), b.RelayDropped())
	}
}

func TestDeliveredNoticeCrossesInstances(t *testing.T) {
	h := New(&recordingStore{}, zap.NewNop(), Options{IdleTimeout: time.Minute})
	relay := &recordingRelay{got: make(chan Envelope, 4)}
	remote := make(chan Envelope)
	h.attachRelay(context.Background(), relay, func(ctx context.Context, deliver func(Envelope)) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case env := <-remote:
				deliver(env)
			}
		}
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Close(ctx)
	}()

	// Local delivery is announced to the other instances.
	h.OrderDelivered("o1")
	select {
	case env := <-relay.got:
		if env.Kind != KindDelivered || env.OrderID != "o1" {
			t.Fatalf("relayed %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery notice was not relayed")
	}

	// A notice from another instance closes the local channel.
	viewer := &chanMember{id: "v", got: make(chan []byte, 4)}
	h.Registry().Join("o2", viewer)
	remote <- Envelope{Kind: KindSample, Instance: "other", Conn: "p", OrderID: "o2", Lat: 1, Lng: 2}
	remote <- Envelope{Kind: KindDelivered, Instance: "other", OrderID: "o2"}

	var actions []string
	for len(actions) < 2 {
		select {
		case data := <-viewer.got:
			var ev map[string]any
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
			actions = append(actions, ev["action"].(string))
		case <-time.After(2 * time.Second):
			t.Fatalf("viewer saw only %v", actions)
		}
	}
	if actions[0] != ActionReceive || actions[1] != ActionDelivered {
		t.Fatalf("viewer saw %v", actions)
	}
	if !h.Registry().IsClosed("o2") || len(h.Registry().Members("o2")) != 0 {
		t.Fatal("remote delivery left the channel open")
	}
	if err := h.Broadcaster().Publish("p", Location{OrderID: "o2", Lat: 1, Lng: 1}); err != ErrOrderDelivered {
		t.Fatalf("publish after remote delivery: %v", err)
	}
}

func TestRedisRelayBetweenInstances(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	channel := "test:relay:" + time.Now().Format("150405.000")
	a := NewRedisRelay(client, channel, zap.NewNop())
	b := NewRedisRelay(client, channel, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gotB := make(chan Envelope, 1)
	gotA := make(chan Envelope, 1)
	go b.Run(ctx, func(env Envelope) { gotB <- env })
	go a.Run(ctx, func(env Envelope) { gotA <- env })
	time.Sleep(200 * time.Millisecond)

	if err := a.Publish(ctx, Envelope{OrderID: "o1", Lat: 1, Lng: 2, Timestamp: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case env := <-gotB:
		if env.Instance != a.Instance() || env.OrderID != "o1" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-ctx.Done():
		t.Fatal("b never received the sample")
	}
	select {
	case env := <-gotA:
		t.Fatalf("relay echoed its own sample: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}
