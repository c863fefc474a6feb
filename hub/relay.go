package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Envelope kinds.
const (
	KindSample    = "sample"
	KindDelivered = "delivered"
)

// Envelope is the relay's wire form of a sample or a delivery notice. An
// empty Kind reads as a sample.
type Envelope struct {
	Kind      string    `msgpack:"kind,omitempty"`
	Instance  string    `msgpack:"instance"`
	Conn      string    `msgpack:"conn"`
	OrderID   string    `msgpack:"orderId"`
	Lat       float64   `msgpack:"lat"`
	Lng       float64   `msgpack:"lng"`
	Timestamp time.Time `msgpack:"timestamp"`
	Status    string    `msgpack:"status,omitempty"`
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(data, &env)
	return env, err
}

// RedisRelay shares samples between instances over Redis pub/sub so viewers
// connected to one instance see producers connected to another.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	instance string
	log      *zap.Logger
}

func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		log:      logger,
	}
}

func (r *RedisRelay) Instance() string { return r.instance }

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	env.Instance = r.instance
	data, err := EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the channel and passes envelopes from other instances to
// deliver until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Envelope)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel), zap.String("instance", r.instance))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("relay: bad envelope", zap.Error(err))
				continue
			}
			if env.Instance == r.instance {
				continue
			}
			deliver(env)
		}
	}
}
