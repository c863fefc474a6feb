package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kisantrack/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one socket connection. It may join any number of order channels
// and act as viewer, producer or both.
type Client struct {
	id     string
	userID string
	roles  []string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	hub    *Hub
}

type inboundPayload struct {
	Action    string     `json:"action"`
	OrderID   string     `json:"orderId"`
	Lat       *float64   `json:"lat,omitempty"`
	Lng       *float64   `json:"lng,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (c *Client) ID() string { return c.id }

// Deliver queues data for the write pump. It never blocks and never sends on
// a finished connection.
func (c *Client) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) notify(action, orderID, msg string) {
	c.Deliver(encodeNotice(action, orderID, msg))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("socket read failed", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		var in inboundPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			c.notify(ActionError, "", "malformed message")
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in inboundPayload) {
	h := c.hub
	switch in.Action {
	case ActionJoin:
		if _, err := models.ParseOrderID(in.OrderID); err != nil {
			c.notify(ActionError, in.OrderID, "invalid order id")
			return
		}
		if h.reg.IsClosed(in.OrderID) {
			c.notify(ActionDelivered, in.OrderID, "")
			return
		}
		h.reg.Join(in.OrderID, c)

	case ActionLeave:
		h.reg.Leave(in.OrderID, c.id)

	case ActionSend:
		if in.Lat == nil || in.Lng == nil {
			c.notify(ActionError, in.OrderID, "lat and lng are required")
			return
		}
		if h.limiter != nil && !h.limiter.Allow(c.id) {
			c.notify(ActionError, in.OrderID, "rate limited")
			return
		}
		loc := Location{OrderID: in.OrderID, Lat: *in.Lat, Lng: *in.Lng}
		if in.Timestamp != nil {
			loc.Timestamp = *in.Timestamp
		}
		err := h.bc.Publish(c.id, loc)
		switch {
		case err == nil:
		case errors.Is(err, ErrOrderDelivered):
			c.notify(ActionDelivered, in.OrderID, "")
		default:
			c.notify(ActionError, in.OrderID, err.Error())
		}

	default:
		c.notify(ActionError, in.OrderID, "unknown action")
	}
}
