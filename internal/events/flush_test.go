package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStrategyTriggersOnQueueSizeUnderSizePolicy(t *testing.T) {
	var flushed int32
	done := make(chan struct{}, 1)
	flush := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&flushed, 1)
		select {
		case done <- struct{}{}:
		default:
		}
		return 1, nil
	}

	cfg := Config{Policy: PolicySize, BufferSizeLimit: 5}
	s := NewStrategy(cfg, flush, nil)
	s.Start()
	defer s.Stop()

	s.OnQueueSize(KindUser, 6)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected flush to trigger on oversized queue")
	}

	if atomic.LoadInt32(&flushed) == 0 {
		t.Fatal("expected flush to have been called")
	}
}

func TestStrategyIgnoresSizeUnderPeriodicPolicy(t *testing.T) {
	var flushed int32
	flush := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&flushed, 1)
		return 1, nil
	}

	cfg := Config{Policy: PolicyPeriodic, FlushLoopInterval: time.Hour}
	s := NewStrategy(cfg, flush, nil)
	s.Start()
	defer s.Stop()

	s.OnQueueSize(KindUser, 1000)
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&flushed) != 0 {
		t.Fatal("periodic policy must not react to queue size")
	}
}

func TestStrategyFlushNowIsSynchronous(t *testing.T) {
	called := false
	flush := func(ctx context.Context) (int, error) {
		called = true
		return 3, nil
	}

	s := NewStrategy(DefaultConfig(), flush, nil)
	n, err := s.FlushNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || !called {
		t.Fatalf("expected FlushNow to call through synchronously, got n=%d called=%v", n, called)
	}
}

func TestStrategyDoesNotOverlapConcurrentFlushes(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	var concurrent int32
	// The second OnQueueSize queues a trigger, so the worker calls flush
	// again after the first call returns; only the first call signals.
	var signalOnce sync.Once
	flush := func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&concurrent, 1) > 1 {
			t.Error("overlapping flush detected")
		}
		signalOnce.Do(func() { close(inFlight) })
		<-release
		atomic.AddInt32(&concurrent, -1)
		return 0, errors.New("boom")
	}

	cfg := Config{Policy: PolicySize, BufferSizeLimit: 0}
	s := NewStrategy(cfg, flush, nil)
	s.Start()
	defer s.Stop()

	s.OnQueueSize(KindUser, 1)
	<-inFlight
	s.OnQueueSize(KindUser, 1)
	time.Sleep(10 * time.Millisecond)
	close(release)
}
