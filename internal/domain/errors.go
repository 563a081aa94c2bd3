package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidTick     = errors.New("invalid tick")
	ErrInvalidCandle   = errors.New("invalid candle")
	ErrStale           = errors.New("stale data")
	ErrNotReady        = errors.New("insufficient history")
	ErrUnresolved      = errors.New("unresolved symbol")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockHeld        = errors.New("lock already held")
	ErrRejected        = errors.New("rejected by decision oracle")
	ErrOracleTimeout   = errors.New("decision oracle timed out")
	ErrLimitReached    = errors.New("portfolio limit reached")
	ErrCooldown        = errors.New("post-loss cooldown active")
	ErrLossBudget      = errors.New("daily loss budget exhausted")
	ErrGateClosed      = errors.New("entry gate closed")
	ErrSlotBusy        = errors.New("instrument slot busy")
	ErrAlreadyClosed   = errors.New("position already closed")
	ErrInvalidCapacity = errors.New("invalid window capacity")
)
