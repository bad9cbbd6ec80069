// Package realtime pushes dispatch events to websocket subscribers grouped in
// topic rooms.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	topics []string
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// push queues payload without blocking. A full buffer drops the message.
func (c *client) push(payload []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Hub keeps the topic rooms of one instance.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
	closed  bool
	dropped atomic.Int64
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

// Name identifies the hub as a dispatch transport.
func (h *Hub) Name() string { return "websocket" }

// Deliver queues payload for every subscriber of topic. Slow subscribers lose
// messages instead of holding up the others.
func (h *Hub) Deliver(_ context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[topic] {
		if !c.push(payload) {
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns how many connections are in the topic's room.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

// Dropped returns how many messages were discarded for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Serve joins conn to the given rooms and blocks until the connection ends.
// The caller has already authorised every topic.
func (h *Hub) Serve(conn *websocket.Conn, topics []string) {
	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		topics: topics,
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	for _, topic := range c.topics {
		room, ok := h.rooms[topic]
		if !ok {
			room = make(map[*client]struct{})
			h.rooms[topic] = room
		}
		room[c] = struct{}{}
	}
	return true
}

func (h *Hub) unregister(c *client) {
	c.close()

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	for _, topic := range c.topics {
		room := h.rooms[topic]
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
}

// readPump only keeps the read deadline alive; subscribers never send data.
func (h *Hub) readPump(c *client) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
