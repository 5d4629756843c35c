package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAcquireFailsWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 50 * time.Millisecond,
	})
	defer client.Close()

	m := NewManager(client, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := m.Acquire(ctx, "test:lock", time.Second); err == nil {
		t.Fatal("expected acquisition against an unreachable redis to fail")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := &Lock{
		redis:     redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		key:       "test:lock",
		done:      make(chan struct{}),
		renewTick: time.NewTicker(time.Hour),
	}
	defer l.redis.Close()

	l.Release()
	l.Release() // must not panic on double-close
}
