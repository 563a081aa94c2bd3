package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBus is an in-process stand-in for the Redis signal bus.
type memBus struct {
	mu     sync.Mutex
	subs   []chan []byte
	stream   []domain.StreamMessage
	payloads [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	for _, s := range b.subs {
		select {
		case s <- payload:
		default:
		}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, domain.StreamMessage{ID: fmt.Sprintf("%d-0", len(b.stream)+1), Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if lastID != "0" {
		for i, m := range b.stream {
			if m.ID == lastID {
				start = i + 1
			}
		}
	}
	end := min(start+count, len(b.stream))
	out := make([]domain.StreamMessage, end-start)
	copy(out, b.stream[start:end])
	return out, nil
}

func (b *memBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *memBus) origins() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.payloads))
	for _, p := range b.payloads {
		var env envelope
		if json.Unmarshal(p, &env) == nil {
			out = append(out, env.Origin)
		}
	}
	return out
}

func (b *memBus) streamLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stream)
}

func TestMirror_PushInOneProcessVisibleInAnother(t *testing.T) {
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two registries stand in for two OS processes.
	procA := NewRegistry(DefaultConfig(), testLogger()).Attach("spot-feed")
	procB := NewRegistry(DefaultConfig(), testLogger()).Attach("decision-loop")
	require.NotSame(t, procA.Hub, procB.Hub)

	mirrorA := NewMirror(procA.Hub, bus, 0, testLogger())
	mirrorB := NewMirror(procB.Hub, bus, 0, testLogger())
	go func() { _ = mirrorA.Run(ctx) }()
	go func() { _ = mirrorB.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		procA.PushTick(domain.Tick{Instrument: "EURUSD", Time: time.Now(), Bid: 1.1052, Ask: 1.10525})
		_, ok := procB.LatestTick("EURUSD")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// B applied A's pushes under A's origin and never echoed them back.
	time.Sleep(50 * time.Millisecond)
	for _, o := range bus.origins() {
		assert.Equal(t, mirrorA.Origin(), o)
	}
}

func TestMirror_CatchUpReplaysCandleStream(t *testing.T) {
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := NewRegistry(DefaultConfig(), testLogger()).Locate()
	mp := NewMirror(producer, bus, 0, testLogger())
	go func() { _ = mp.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		producer.PushCandle(candleAt("X", "spot", domain.VolumeProxy, t0, 1))
		return bus.streamLen() > 0
	}, time.Second, 10*time.Millisecond)

	late := NewRegistry(DefaultConfig(), testLogger()).Locate()
	ml := NewMirror(late, bus, 100, testLogger())
	go func() { _ = ml.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(late.LatestCandles("X", "spot", 10).Candles) == 1
	}, time.Second, 10*time.Millisecond)
}
