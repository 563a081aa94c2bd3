package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// unlockLua deletes the lock only if the caller still owns it.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the TTL out only if the caller still owns the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and
// token-checked unlock and extend scripts.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func (lm *LockManager) key(name string) string {
	return lm.c.Key("lock:" + name)
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := lm.c.rdb.SetNX(ctx, lm.key(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

func (lm *LockManager) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = lm.unlockSc.Run(ctx, lm.c.rdb, []string{lm.key(key)}, token).Err()
}

// Acquire obtains the lock for key with the given TTL. The returned unlock
// function is safe to call more than once. It returns domain.ErrLockHeld if
// another holder owns the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { lm.release(key, token) }) }, nil
}

// Lead blocks until it holds the lock for key, then runs fn with a context
// that is cancelled if the lock is lost. The lock is extended every ttl/3
// and released when fn returns. Only one process in a deployment runs fn at
// a time.
func (lm *LockManager) Lead(ctx context.Context, key string, ttl time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) error {
	var token string
	for {
		t, err := lm.acquire(ctx, key, ttl)
		if err == nil {
			token = t
			break
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			logger.WarnContext(ctx, "lock: acquire failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ttl / 3):
		}
	}
	defer lm.release(key, token)
	logger.InfoContext(ctx, "lock: leadership acquired", slog.String("key", key))

	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-leadCtx.Done():
				return
			case <-ticker.C:
				n, err := lm.extendSc.Run(leadCtx, lm.c.rdb, []string{lm.key(key)}, token, ttl.Milliseconds()).Int64()
				if err != nil && leadCtx.Err() != nil {
					return
				}
				if err != nil || n == 0 {
					logger.ErrorContext(leadCtx, "lock: leadership lost", slog.String("key", key))
					cancel()
					return
				}
			}
		}
	}()
	return fn(leadCtx)
}

var _ domain.LockManager = (*LockManager)(nil)
