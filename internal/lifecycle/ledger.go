package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Limits are the portfolio guards enforced by the RiskLedger. Zero values
// disable the corresponding guard.
type Limits struct {
	MaxConcurrent   int
	DailyTradeCap   int
	DailyLossBudget decimal.Decimal
	Cooldown        time.Duration
}

// LedgerStats is a point-in-time copy of the ledger counters.
type LedgerStats struct {
	Day           time.Time       `json:"day"`
	Open          int             `json:"open"`
	Reserved      int             `json:"reserved"`
	TradesToday   int             `json:"trades_today"`
	PnLToday      decimal.Decimal `json:"pnl_today"`
	CooldownUntil time.Time       `json:"cooldown_until,omitzero"`
}

// Reservation is a slot held against the portfolio counters while a setup
// waits for the oracle. It is settled exactly once, by Commit or Release.
type Reservation struct {
	settled bool
}

// RiskLedger owns the global portfolio counters. All mutation goes through
// its methods under one mutex; daily counters roll at the UTC day boundary.
type RiskLedger struct {
	mu            sync.Mutex
	limits        Limits
	day           time.Time
	open          int
	reserved      int
	tradesToday   int
	pnlToday      decimal.Decimal
	cooldownUntil time.Time
}

// NewRiskLedger creates a ledger with the given limits.
func NewRiskLedger(limits Limits) *RiskLedger {
	return &RiskLedger{limits: limits}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// roll resets daily counters when now falls on a later UTC day. Open
// positions and the cooldown carry over. Caller holds mu.
func (l *RiskLedger) roll(now time.Time) {
	d := utcDay(now)
	if d.After(l.day) {
		l.day = d
		l.tradesToday = 0
		l.pnlToday = decimal.Zero
	}
}

// Reserve checks every guard and, if all pass, holds one slot against the
// concurrent and daily counters.
func (l *RiskLedger) Reserve(now time.Time) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(now)

	if now.Before(l.cooldownUntil) {
		return nil, fmt.Errorf("lifecycle: reserve: %w until %s", domain.ErrCooldown, l.cooldownUntil.Format(time.RFC3339))
	}
	if n := l.limits.MaxConcurrent; n > 0 && l.open+l.reserved >= n {
		return nil, fmt.Errorf("lifecycle: reserve: %w: %d/%d concurrent", domain.ErrLimitReached, l.open+l.reserved, n)
	}
	if n := l.limits.DailyTradeCap; n > 0 && l.tradesToday+l.reserved >= n {
		return nil, fmt.Errorf("lifecycle: reserve: %w: %d/%d trades today", domain.ErrLimitReached, l.tradesToday+l.reserved, n)
	}
	if budget := l.limits.DailyLossBudget; budget.IsPositive() && l.pnlToday.LessThanOrEqual(budget.Neg()) {
		return nil, fmt.Errorf("lifecycle: reserve: %w: pnl %s", domain.ErrLossBudget, l.pnlToday.StringFixed(2))
	}

	l.reserved++
	return &Reservation{}, nil
}

// Release returns a reservation that did not turn into a position.
func (l *RiskLedger) Release(r *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil || r.settled {
		return
	}
	r.settled = true
	l.reserved--
}

// Commit converts a reservation into an open position and counts the trade.
func (l *RiskLedger) Commit(r *Reservation, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil || r.settled {
		return
	}
	r.settled = true
	l.roll(now)
	l.reserved--
	l.open++
	l.tradesToday++
}

// Finalize records a closed position's realized PnL. A loss starts the
// cooldown.
func (l *RiskLedger) Finalize(pnl decimal.Decimal, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(now)
	if l.open > 0 {
		l.open--
	}
	l.pnlToday = l.pnlToday.Add(pnl)
	if pnl.IsNegative() && l.limits.Cooldown > 0 {
		l.cooldownUntil = now.Add(l.limits.Cooldown)
	}
}

// Restore seeds the open counter from positions recovered at startup.
func (l *RiskLedger) Restore(open int, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(now)
	l.open = open
}

// Stats returns the counters as of now.
func (l *RiskLedger) Stats(now time.Time) LedgerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(now)
	return LedgerStats{
		Day:           l.day,
		Open:          l.open,
		Reserved:      l.reserved,
		TradesToday:   l.tradesToday,
		PnLToday:      l.pnlToday,
		CooldownUntil: l.cooldownUntil,
	}
}
