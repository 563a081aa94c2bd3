package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/hub"
)

// Inputs is one instrument's copied-out market state at Now.
type Inputs struct {
	Instrument string
	Now        time.Time
	Tick       hub.TickView
	HasTick    bool
	Candles    hub.CandleView
	Flow       hub.FlowView
	HasFlow    bool
}

// Detector turns market state into entry candidates. Detect returns
// domain.ErrNotReady while its inputs hold too little history.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Inputs) ([]domain.Setup, error)
}

// Config holds detector configuration.
type Config struct {
	Name        string
	Instruments []string
	RewardRisk  float64
	Params      map[string]any
}

func (c Config) floatParam(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int64:
			return float64(f)
		case int:
			return float64(f)
		}
	}
	return def
}

func (c Config) intParam(key string, def int) int {
	if v, ok := c.Params[key]; ok {
		switch n := v.(type) {
		case int64:
			return int(n)
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func (c Config) rewardRisk() float64 {
	if c.RewardRisk > 0 {
		return c.RewardRisk
	}
	return 1.5
}
