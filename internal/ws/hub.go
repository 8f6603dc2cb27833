// Package ws streams protocol events to WebSocket clients.
//
// Clients subscribe with {"action":"subscribe","channels":["market:<addr>"]}.
// A channel ending in "*" matches by prefix, so "*" receives everything.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// BusPatterns are the bus channels a hub listens on.
var BusPatterns = []string{"market:*", domain.ProtocolChannel}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Source delivers messages from a pub/sub bus.
type Source interface {
	Subscribe(ctx context.Context, patterns ...string) (<-chan domain.BusMessage, error)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	mu   sync.RWMutex
	subs map[string]bool

	// send is closed once, by close; sendMu orders that against enqueue.
	send   chan []byte
	sendMu sync.Mutex
	closed bool
}

type request struct {
	Action   string   `json:"action"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

type reply struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Hub tracks connected clients and routes messages to subscribers.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.BusMessage
	register   chan *client
	unregister chan *client
	source     Source
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a hub. With a nil source, messages arrive only through
// Broadcast.
func NewHub(source Source, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.BusMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		source:     source,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Broadcast queues payload for clients subscribed to channel. It drops the
// message if the hub is backed up.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.broadcast <- domain.BusMessage{Channel: channel, Payload: payload}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping message", zap.String("channel", channel))
	}
}

// Run is the hub loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.source != nil {
		msgs, err := h.source.Subscribe(ctx, BusPatterns...)
		if err != nil {
			return err
		}
		go h.forward(ctx, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			observability.SetWSClients(0)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			observability.SetWSClients(n)
			h.logger.Debug("ws: client connected", zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.SetWSClients(n)
			h.logger.Debug("ws: client disconnected", zap.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.Channel) {
					continue
				}
				if !c.enqueue(msg.Payload) {
					h.logger.Warn("ws: dropping message for slow client", zap.String("channel", msg.Channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) forward(ctx context.Context, msgs <-chan domain.BusMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				return
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws: unexpected close", zap.Error(err))
			}
			return
		}

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(reply{Type: "error", Error: "invalid json"})
			continue
		}
		c.handle(req)
	}
}

func (c *client) handle(req request) {
	c.mu.Lock()
	switch req.Action {
	case "subscribe":
		for _, ch := range req.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range req.Channels {
			delete(c.subs, ch)
		}
	default:
		c.mu.Unlock()
		c.reply(reply{Type: "error", Error: "unknown action " + req.Action})
		return
	}
	c.mu.Unlock()
	c.reply(reply{Type: req.Action + "d", Channels: req.Channels})
}

func (c *client) reply(r reply) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// enqueue queues msg without blocking. It reports false if the client is
// closed or its buffer is full.
func (c *client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close ends the write pump. Later calls are no-ops.
func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
