package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/models"
	"kisantrack/ratelim"
	"kisantrack/utils"
)

// Options tunes a Hub. Zero values fall back to defaults.
type Options struct {
	IdleTimeout  time.Duration
	PersistQueue int
	SendBuffer   int
	SampleRate   float64
	SampleBurst  int
}

func (o *Options) defaults() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 5
	}
	if o.SampleBurst <= 0 {
		o.SampleBurst = 10
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the live side of tracking: the channel registry, the broadcaster,
// the persistence queues and every open socket.
type Hub struct {
	reg     *Registry
	bc      *Broadcaster
	persist *Persister
	limiter *ratelim.RateLimiter
	log     *zap.Logger
	opts    Options

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(store SampleAppender, logger *zap.Logger, opts Options) *Hub {
	opts.defaults()
	h := &Hub{
		reg:     NewRegistry(opts.IdleTimeout),
		limiter: ratelim.NewRateLimiter(opts.SampleRate, opts.SampleBurst, opts.IdleTimeout),
		log:     logger,
		opts:    opts,
		clients: make(map[string]*Client),
		stop:    make(chan struct{}),
	}
	h.persist = NewPersister(store, logger, opts.PersistQueue, h.markClosed)
	h.bc = NewBroadcaster(h.reg, h.persist, logger)
	return h
}

func (h *Hub) Registry() *Registry       { return h.reg }
func (h *Hub) Broadcaster() *Broadcaster { return h.bc }
func (h *Hub) Persister() *Persister     { return h.persist }

// Run sweeps stale channel state until ctx is done or the hub is closed.
func (h *Hub) Run(ctx context.Context) {
	go h.limiter.Run(h.stop)

	every := h.opts.IdleTimeout / 2
	if every <= 0 {
		every = h.opts.IdleTimeout
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case now := <-t.C:
			if n := h.reg.Sweep(now); n > 0 {
				h.log.Debug("swept closed channels", zap.Int("count", n))
			}
		}
	}
}

// AttachRelay routes samples and delivery notices through r and delivers
// those from other instances to local members. Both loops end when ctx is
// done or the hub is closed.
func (h *Hub) AttachRelay(ctx context.Context, r *RedisRelay) {
	h.attachRelay(ctx, r, r.Run)
}

func (h *Hub) attachRelay(ctx context.Context, r Relay, subscribe func(context.Context, func(Envelope)) error) {
	ctx, cancel := context.WithCancel(ctx)
	h.bc.SetRelay(r)
	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		defer cancel()
		select {
		case <-ctx.Done():
		case <-h.stop:
		}
	}()
	go func() {
		defer h.wg.Done()
		h.bc.RunRelay(ctx)
	}()
	go func() {
		defer h.wg.Done()
		if err := subscribe(ctx, h.deliverRemote); err != nil {
			h.log.Error("relay stopped", zap.Error(err))
		}
	}()
}

// deliverRemote applies an envelope published by another instance.
func (h *Hub) deliverRemote(env Envelope) {
	if env.Kind == KindDelivered {
		if !h.reg.IsClosed(env.OrderID) {
			h.closeChannel(env.OrderID)
		}
		return
	}
	if h.reg.IsClosed(env.OrderID) {
		return
	}
	h.bc.fanOut(env.Conn, Location{
		OrderID:   env.OrderID,
		Lat:       env.Lat,
		Lng:       env.Lng,
		Timestamp: env.Timestamp,
		Status:    models.Status(env.Status),
	})
}

// OrderDelivered tells the order's members on every instance that it has
// been delivered and tears its channel down.
func (h *Hub) OrderDelivered(orderID string) {
	h.closeChannel(orderID)
	h.bc.queueRelay(Envelope{Kind: KindDelivered, OrderID: orderID, Timestamp: time.Now().UTC()})
}

func (h *Hub) closeChannel(orderID string) {
	members := h.reg.Close(orderID, time.Now())
	msg := encodeNotice(ActionDelivered, orderID, "")
	for _, m := range members {
		m.Deliver(msg)
	}
	h.log.Info("tracking channel closed", zap.String("orderId", orderID), zap.Int("members", len(members)))
}

func (h *Hub) markClosed(orderID string) {
	if !h.reg.IsClosed(orderID) {
		h.OrderDelivered(orderID)
	}
}

// ServeWS upgrades the request and starts the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		utils.RespondWithError(w, http.StatusServiceUnavailable, ErrHubClosed.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		id:     uuid.NewString(),
		userID: utils.GetUserID(r.Context()),
		roles:  utils.GetRoles(r.Context()),
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
		hub:    h,
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Debug("socket connected", zap.String("conn", c.id), zap.String("userId", c.userID), zap.Strings("roles", c.roles))
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *Client) {
	h.reg.LeaveAll(c.id)
	h.limiter.Forget(c.id)
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.log.Debug("socket disconnected", zap.String("conn", c.id))
}

// Connections is the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops the sweeper, disconnects every socket and flushes pending
// persistence. It is safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.stop)
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	err := h.persist.Stop(ctx)
	h.wg.Wait()
	return err
}
