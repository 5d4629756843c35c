package redistribute

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/events"
)

// EventPersisterBuffer is the G-shaped buffer the redistributor runs inside
// a split or merge (spec.md §4.6): it accepts events tagged by which of the
// two sources produced them, merges both streams into total
// (OccurredTime, SequenceNumber, EventId) order, and flushes to the target
// persister once the combined buffer reaches threshold. After every
// BufferEvent it reports the highest EventId seen per origin, so the
// controller can checkpoint how far each source has been drained.
type EventPersisterBuffer struct {
	mu        sync.Mutex
	threshold int
	persister events.Persister
	pending   []taggedEvent
	highWater map[string]uuid.UUID
}

type taggedEvent struct {
	origin string
	event  events.TemporalEvent
}

// NewEventPersisterBuffer builds a buffer that flushes once it holds at
// least threshold pending events.
func NewEventPersisterBuffer(threshold int, persister events.Persister) *EventPersisterBuffer {
	if threshold <= 0 {
		threshold = 1
	}
	return &EventPersisterBuffer{
		threshold: threshold,
		persister: persister,
		highWater: make(map[string]uuid.UUID),
	}
}

// BufferEvent tags e with origin, enqueues it, and flushes the merged
// buffer to the target persister if threshold is reached. Returns the
// current per-origin high-water EventId map (a snapshot, safe for the
// caller to read without further locking) whether or not a flush occurred.
func (b *EventPersisterBuffer) BufferEvent(ctx context.Context, origin string, e events.TemporalEvent) (map[string]uuid.UUID, error) {
	b.mu.Lock()
	b.pending = append(b.pending, taggedEvent{origin: origin, event: e})
	b.highWater[origin] = e.EventID
	shouldFlush := len(b.pending) >= b.threshold
	b.mu.Unlock()

	if shouldFlush {
		if err := b.Flush(ctx); err != nil {
			return nil, err
		}
	}
	return b.snapshotHighWater(), nil
}

// Flush persists every currently pending event, merge-sorted, regardless of
// whether threshold has been reached. Called unconditionally at the end of
// a drain step so no buffered tail is left unpersisted.
func (b *EventPersisterBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].event.Less(pending[j].event) })
	merged := make([]events.TemporalEvent, len(pending))
	for i, te := range pending {
		merged[i] = te.event
	}

	if err := b.persister.PersistEvents(ctx, merged, true); err != nil {
		b.mu.Lock()
		b.pending = append(pending, b.pending...)
		b.mu.Unlock()
		return apperrors.Wrap(apperrors.KindPersistenceFailure, err, "failed to persist %d redistribution events", len(merged))
	}
	return nil
}

func (b *EventPersisterBuffer) snapshotHighWater() map[string]uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uuid.UUID, len(b.highWater))
	for k, v := range b.highWater {
		out[k] = v
	}
	return out
}
