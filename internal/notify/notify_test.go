package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

type recordSender struct {
	name string
	err  error
	got  []Message
}

func (r *recordSender) Send(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func closedLoss() domain.PositionEvent {
	entry := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)
	exit := entry.Add(95 * time.Second)
	return domain.PositionEvent{
		Type: domain.PositionClosed,
		Position: domain.PositionRecord{
			ID: "p1", Instrument: "EURUSD", Direction: domain.Long,
			EntryPrice: 1.1001, ExitPrice: 1.0991, EntryTime: entry, ExitTime: &exit,
			CloseReason: domain.CloseStop, RealizedPnL: decimal.RequireFromString("-10"),
		},
	}
}

func TestFormatPositionEvent_Closed(t *testing.T) {
	m := FormatPositionEvent(closedLoss())
	assert.Equal(t, "Closed LONG EURUSD (stop)", m.Title)
	assert.Equal(t, "entry 1.1001 · exit 1.0991 · pnl -10.00 · held 1m35s", m.Body)
	assert.Equal(t, LevelBad, m.Level)
}

func TestFormatPositionEvent_Opened(t *testing.T) {
	m := FormatPositionEvent(domain.PositionEvent{
		Type: domain.PositionOpened,
		Position: domain.PositionRecord{
			Instrument: "ES.c.0", Direction: domain.Short, Setup: "sweep_reversal",
			EntryPrice: 5010, Stop: 5015, Target: 4990, Size: 2, SizeTier: 2, Confidence: 0.75,
		},
	})
	assert.Equal(t, "Opened SHORT ES.c.0", m.Title)
	assert.Contains(t, m.Body, "entry 5010 · stop 5015 · target 4990")
	assert.Contains(t, m.Body, "confidence 75%")
}

func TestNotifier_FilterAndFanOut(t *testing.T) {
	ok := &recordSender{name: "ok"}
	bad := &recordSender{name: "bad", err: errors.New("429")}
	n := NewNotifier([]Sender{bad, ok}, []string{"position_closed"}, discard())

	require.NoError(t, n.HandlePositionEvent(context.Background(), domain.PositionEvent{Type: domain.PositionOpened}))
	assert.Empty(t, ok.got)

	err := n.HandlePositionEvent(context.Background(), closedLoss())
	assert.ErrorContains(t, err, "bad: 429")
	assert.Len(t, ok.got, 1, "a failing sender must not block the others")
}

func TestDiscordSender_PostsEmbed(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), Message{Title: "t", Body: "b", Level: LevelGood}))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, 0x2ecc71, payload.Embeds[0].Color)
}

func TestTelegramSender_EscapesHTML(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{Title: "a<b", Body: "x & y"}))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "🔵 <b>a&lt;b</b>\nx &amp; y", got["text"])
}

func TestTelegramSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	assert.ErrorContains(t, s.Send(context.Background(), Message{Title: "x"}), "unexpected status 400")
}
