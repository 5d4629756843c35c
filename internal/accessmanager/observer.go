package accessmanager

import "sync"

// MutationObserver is the interceptor chain spec.md §9 Design Notes calls
// for in place of the source's mutation-callback/Action-wrapping idiom:
// every named-lock mutation reports through this small trait instead of a
// bespoke metrics-interception mechanism per call site.
type MutationObserver interface {
	OnBegin(operation string)
	OnEnd(operation string, count int64)
	OnCancel(operation string)
	OnCount(operation string, count int64)
	OnStatus(operation string, err error)
}

// NoopObserver discards every callback; it is the default when no observer
// is supplied.
type NoopObserver struct{}

func (NoopObserver) OnBegin(string)            {}
func (NoopObserver) OnEnd(string, int64)       {}
func (NoopObserver) OnCancel(string)           {}
func (NoopObserver) OnCount(string, int64)     {}
func (NoopObserver) OnStatus(string, error)    {}

// CountingObserver accumulates per-operation call and failure counts. Used
// in tests to assert that a given mutation path was exercised the expected
// number of times.
type CountingObserver struct {
	mu       sync.Mutex
	calls    map[string]int64
	failures map[string]int64
}

// NewCountingObserver returns an initialized CountingObserver.
func NewCountingObserver() *CountingObserver {
	return &CountingObserver{
		calls:    make(map[string]int64),
		failures: make(map[string]int64),
	}
}

func (o *CountingObserver) OnBegin(operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[operation]++
}

func (o *CountingObserver) OnEnd(string, int64)   {}
func (o *CountingObserver) OnCancel(string)       {}
func (o *CountingObserver) OnCount(string, int64) {}

func (o *CountingObserver) OnStatus(operation string, err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[operation]++
}

// Calls returns the number of times operation was begun.
func (o *CountingObserver) Calls(operation string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[operation]
}

// Failures returns the number of times operation ended in error.
func (o *CountingObserver) Failures(operation string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures[operation]
}
