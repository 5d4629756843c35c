package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlushFunc performs one flush of the buffer; returns the number of events
// flushed. Implemented by PersisterBuffer.Flush.
type FlushFunc func(ctx context.Context) (int, error)

// Policy selects how the Flush Strategy decides to trigger a flush
// (spec.md §4.4): size-based, periodic, or both.
type Policy int

const (
	PolicySize Policy = iota
	PolicyPeriodic
	PolicyCombined
)

// Config configures a Strategy, grounded on the teacher's
// internal/memory.Batcher constants (BatchSize/BatchInterval).
type Config struct {
	Policy            Policy
	BufferSizeLimit   int
	FlushLoopInterval time.Duration
}

// DefaultConfig mirrors the teacher's Batcher defaults.
func DefaultConfig() Config {
	return Config{
		Policy:            PolicyCombined,
		BufferSizeLimit:   20,
		FlushLoopInterval: 2 * time.Minute,
	}
}

// Strategy owns the single worker goroutine that calls back into the
// persister buffer's flush operation, either when a queue crosses
// BufferSizeLimit or when FlushLoopInterval elapses, per Config.Policy.
type Strategy struct {
	cfg    Config
	flush  FlushFunc
	logger *zap.Logger

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	flushing    bool
}

// NewStrategy builds a Strategy that calls flush per cfg's policy.
func NewStrategy(cfg Config, flush FlushFunc, logger *zap.Logger) *Strategy {
	ctx, cancel := context.WithCancel(context.Background())
	return &Strategy{
		cfg:     cfg,
		flush:   flush,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutine.
func (s *Strategy) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the worker and waits for it to exit.
func (s *Strategy) Stop() {
	s.cancel()
	s.wg.Wait()
}

// OnQueueSize is the size hook wired into Buffer; it signals the worker to
// flush when size exceeds BufferSizeLimit under PolicySize/PolicyCombined.
// At most one signal is queued while a flush is pending.
func (s *Strategy) OnQueueSize(kind Kind, size int) {
	if s.cfg.Policy == PolicyPeriodic {
		return
	}
	if size <= s.cfg.BufferSizeLimit {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Strategy) run() {
	defer s.wg.Done()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if s.cfg.Policy != PolicySize {
		interval := s.cfg.FlushLoopInterval
		if interval <= 0 {
			interval = DefaultConfig().FlushLoopInterval
		}
		ticker = time.NewTicker(interval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.trigger:
			s.doFlush()
		case <-tickC:
			s.doFlush()
		}
	}
}

func (s *Strategy) doFlush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	n, err := s.flush(s.ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("flush failed, events re-queued for retry", zap.Error(err))
		}
		return
	}
	if n > 0 && s.logger != nil {
		s.logger.Debug("flushed buffered events", zap.Int("count", n))
	}
}

// FlushNow calls the flush function synchronously on the caller's
// goroutine, bypassing the trigger channel and the worker.
func (s *Strategy) FlushNow(ctx context.Context) (int, error) {
	return s.flush(ctx)
}
