// Package tripswitch implements the process-wide latch spec.md's glossary
// calls the trip switch: once tripped, it causes every mutating HTTP
// endpoint except the admin reset to answer 503 until an operator resets it
// (spec.md §5, §7). cmd/server trips it when replaying persisted history at
// startup fails. A failed event-buffer flush does not trip it: the flush
// strategy logs the error and the events stay queued for the next flush.
package tripswitch

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Switch is a single atomic latch, safe for concurrent Trip/Tripped/Reset
// from any number of goroutines.
type Switch struct {
	tripped atomic.Bool
	logger  *zap.Logger
}

// New returns a Switch in the untripped state.
func New(logger *zap.Logger) *Switch {
	return &Switch{logger: logger}
}

// Trip flips the latch. Idempotent: tripping an already-tripped switch is a
// no-op beyond the log line.
func (s *Switch) Trip(reason string) {
	if s.tripped.CompareAndSwap(false, true) && s.logger != nil {
		s.logger.Error("trip switch engaged; rejecting mutating requests until operator reset", zap.String("reason", reason))
	}
}

// Tripped reports the current latch state.
func (s *Switch) Tripped() bool {
	return s.tripped.Load()
}

// Reset clears the latch. Only an operator action should call this.
func (s *Switch) Reset() {
	if s.tripped.CompareAndSwap(true, false) && s.logger != nil {
		s.logger.Info("trip switch reset by operator")
	}
}
