package wsconn

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubscribesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	var subMu sync.Mutex
	var subs []string

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		conns.Add(1)

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		subMu.Lock()
		subs = append(subs, string(msg))
		subMu.Unlock()

		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"n":2}`))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	cfg := Config{
		Name:         "test",
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}
	onConnect := func(_ context.Context, c *Client) error {
		return c.SendJSON(map[string]any{"action": "subscribe", "symbols": []string{"EURUSD"}})
	}
	client := New(cfg, onConnect, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, func(_ context.Context, msg []byte) { got.Add(1) })
	}()

	assert.Eventually(t, func() bool { return conns.Load() >= 2 && got.Load() >= 4 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	subMu.Lock()
	defer subMu.Unlock()
	require.NotEmpty(t, subs)
	assert.JSONEq(t, `{"action":"subscribe","symbols":["EURUSD"]}`, subs[0])
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, c.SendJSON(map[string]string{"a": "b"}))
}

func TestClient_DialFailureBacksOff(t *testing.T) {
	c := New(Config{
		URL:          "ws://127.0.0.1:1",
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 10 * time.Millisecond,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx, func(context.Context, []byte) {}), context.DeadlineExceeded)
}
