// Package wsconn is a reconnecting websocket client for upstream market
// data. A Client owns at most one live connection; Run keeps it up with
// exponential backoff and hands every text frame to a handler.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// Config tunes the connection.
type Config struct {
	// Name labels logs and the reconnect metric.
	Name   string
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	// PongWait is the read deadline; any frame or pong extends it.
	PongWait     time.Duration
	PingPeriod   time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "ws"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = time.Minute
	}
}

// Handler receives each text frame. It runs on the read goroutine and must
// not block for long.
type Handler func(ctx context.Context, msg []byte)

// OnConnect runs after every successful dial, before frames are read. It is
// where subscriptions are (re)sent. An error drops the connection.
type OnConnect func(ctx context.Context, c *Client) error

// Client is a reconnecting websocket client.
type Client struct {
	cfg       Config
	onConnect OnConnect
	logger    *slog.Logger

	wmu  sync.Mutex
	conn *websocket.Conn
}

// New creates a Client. onConnect may be nil.
func New(cfg Config, onConnect OnConnect, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:       cfg,
		onConnect: onConnect,
		logger:    logger.With(slog.String("component", "wsconn"), slog.String("feed", cfg.Name)),
	}
}

// SendJSON writes v as a text frame on the current connection.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsconn: marshal: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsconn: %s: %w", c.cfg.Name, domain.ErrWSDisconnect)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Run connects and reads until ctx is cancelled, reconnecting after every
// failure. The backoff resets once a connection has delivered a frame.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	delay := c.cfg.ReconnectMin
	for {
		received, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = c.cfg.ReconnectMin
		}
		metrics.FeedReconnects.WithLabelValues(c.cfg.Name).Inc()
		c.logger.WarnContext(ctx, "wsconn: disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, c.cfg.ReconnectMax)
	}
}

// session runs one connection to completion. received reports whether any
// frame arrived.
func (c *Client) session(ctx context.Context, handle Handler) (received bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return false, fmt.Errorf("wsconn: dial %s: %w", c.cfg.Name, err)
	}

	c.wmu.Lock()
	c.conn = conn
	c.wmu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		c.wmu.Lock()
		c.conn = nil
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		c.wmu.Unlock()
		wg.Wait()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	if c.onConnect != nil {
		if err := c.onConnect(sctx, c); err != nil {
			return false, fmt.Errorf("wsconn: on connect %s: %w", c.cfg.Name, err)
		}
	}
	c.logger.InfoContext(ctx, "wsconn: connected", slog.String("url", c.cfg.URL))

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(sctx, conn)
	}()
	// Unblock ReadMessage when ctx is cancelled.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = fmt.Errorf("wsconn: %s closed by peer: %w", c.cfg.Name, domain.ErrWSDisconnect)
			}
			return received, err
		}
		received = true
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			handle(sctx, msg)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
			c.wmu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.DebugContext(ctx, "wsconn: ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
