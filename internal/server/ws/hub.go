// Package ws pushes live hub updates and position events to monitor
// clients over WebSocket. Every frame is a JSON envelope
//
//	{"type":"tick","channel":"tick:EURUSD","payload":{...}}
//
// and clients narrow what they receive with
//
//	{"action":"subscribe","channels":["position:*","tick:EURUSD"]}
//	{"action":"unsubscribe","channels":["*"]}
//
// A trailing "*" matches any suffix. New clients are subscribed to "*".
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/hub"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
	// OpenPositions, if set, reports the open position count for the
	// status frame.
	OpenPositions func() int
}

type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
}

type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

type directMsg struct {
	c    *client
	data []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// Hub manages connected WebSocket clients and fans published messages out
// to the clients subscribed to their channel.
type Hub struct {
	cfg        Config
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	direct     chan directMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 1024),
		direct:     make(chan directMsg, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run handles client registration and message fan-out until ctx is
// cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.WSClients.Set(0)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(n))
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(n))
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case m := <-h.direct:
			h.mu.RLock()
			if h.clients[m.c] {
				m.c.offer(m.data)
			}
			h.mu.RUnlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					c.offer(msg.data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues payload for every client subscribed to channel. It never
// blocks; when the queue is full the message is dropped.
func (h *Hub) Publish(typ, channel string, payload any) {
	data, err := json.Marshal(envelope{Type: typ, Channel: channel, Payload: payload})
	if err != nil {
		h.logger.Error("ws: marshal failed", slog.String("type", typ), slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	default:
		metrics.WSDropped.Inc()
	}
}

// OnUpdate forwards a market data hub update. Its signature matches the
// hub's Async callback.
func (h *Hub) OnUpdate(_ context.Context, u hub.Update) {
	var payload any
	switch u.Kind {
	case hub.KindTick:
		payload = u.Tick
	case hub.KindCandle:
		payload = u.Candle
	case hub.KindOrderFlow:
		payload = u.Flow
	default:
		return
	}
	h.Publish(string(u.Kind), string(u.Kind)+":"+u.Instrument(), payload)
}

// OnPositionEvent forwards a position opened or closed event.
func (h *Hub) OnPositionEvent(ev domain.PositionEvent) {
	h.Publish(string(ev.Type), "position:"+ev.Position.Instrument, ev)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"*": true},
	}
	c.send <- h.statusFrame()

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) statusFrame() []byte {
	uptime := max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0)
	open := 0
	if h.cfg.OpenPositions != nil {
		open = h.cfg.OpenPositions()
	}
	data, _ := json.Marshal(envelope{
		Type: "status",
		Payload: map[string]any{
			"mode":           h.cfg.Mode,
			"uptime_seconds": uptime,
			"open_positions": open,
		},
	})
	return data
}

// offer queues data without blocking. Callers hold the hub lock, which
// guarantees send is still open.
func (c *client) offer(data []byte) {
	select {
	case c.send <- data:
	default:
		metrics.WSDropped.Inc()
	}
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
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) != nil || sub.Action == "" {
			continue
		}
		ack := c.handleSubscription(sub)
		select {
		case c.hub.direct <- directMsg{c: c, data: ack}:
		case <-c.hub.done:
			return
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe request and returns
// the acknowledgement frame listing the resulting subscriptions.
func (c *client) handleSubscription(msg subscribeMsg) []byte {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	sort.Strings(channels)
	data, _ := json.Marshal(envelope{
		Type:    "subscriptions",
		Payload: map[string]any{"channels": channels},
	})
	return data
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
