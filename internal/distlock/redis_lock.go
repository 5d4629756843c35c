// Package distlock provides a Redis-backed distributed lock, generalized
// from the teacher's internal/agent.GroupOperationLock (a per-group
// SetNX-with-renewal lock) to an arbitrary key. It guards the exclusive
// windows the Operation Router and the Shard Group Splitter/Merger both
// need: a cutover pause while a shard range switches target, and a split
// or merge's catch-up-then-cutover step (spec.md §4.6).
package distlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lock is a held distributed lock. Call Release exactly once.
type Lock struct {
	redis     *redis.Client
	key       string
	token     string
	timeout   time.Duration
	renewTick *time.Ticker
	done      chan struct{}
	logger    *zap.Logger
}

// Manager acquires Locks against a shared Redis client.
type Manager struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewManager builds a Manager backed by client.
func NewManager(client *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{redis: client, logger: logger}
}

// Acquire attempts to take the named lock, holding it for timeout and
// renewing it at timeout/3 intervals until Release is called or ctx is
// cancelled. Returns apperrors-free plain errors; callers that need to
// distinguish "already held" can check for redis.Nil-shaped messages, but
// in practice every caller in this module treats acquisition failure as
// ServiceUnavailable/retry-later.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	acquired, err := m.redis.SetNX(ctx, key, token, timeout).Result()
	if err != nil {
		return nil, fmt.Errorf("distlock: acquisition of %q failed: %w", key, err)
	}
	if !acquired {
		return nil, fmt.Errorf("distlock: %q is already held", key)
	}

	l := &Lock{
		redis:   m.redis,
		key:     key,
		token:   token,
		timeout: timeout,
		done:    make(chan struct{}),
		logger:  m.logger,
	}
	l.renewTick = time.NewTicker(timeout / 3)
	go l.renewLoop(ctx)
	return l, nil
}

func (l *Lock) renewLoop(ctx context.Context) {
	for {
		select {
		case <-l.renewTick.C:
			if err := l.redis.Expire(context.Background(), l.key, l.timeout).Err(); err != nil && l.logger != nil {
				l.logger.Warn("distlock renewal failed", zap.String("key", l.key), zap.Error(err))
			}
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Release drops the lock. Safe to call once; a second call is a no-op.
func (l *Lock) Release() {
	select {
	case <-l.done:
		return
	default:
		close(l.done)
	}
	l.renewTick.Stop()
	l.redis.Del(context.Background(), l.key)
}
