package redistribute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/applicationaccess/core/internal/events"
)

type fakeTargetPersister struct {
	mu        sync.Mutex
	persisted [][]events.TemporalEvent
	failNext  bool
}

func (f *fakeTargetPersister) PersistEvents(ctx context.Context, evts []events.TemporalEvent, ignorePreExisting bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.persisted = append(f.persisted, evts)
	return nil
}

func mkRedistEvent(origin string, seq int64, occurred time.Time) events.TemporalEvent {
	return events.TemporalEvent{
		EventID:        uuid.New(),
		Action:         events.ActionAdd,
		OccurredTime:   occurred,
		SequenceNumber: seq,
		Payload:        events.UserPayload{User: origin},
	}
}

func TestEventPersisterBufferFlushesAtThreshold(t *testing.T) {
	target := &fakeTargetPersister{}
	buf := NewEventPersisterBuffer(2, target)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := buf.BufferEvent(ctx, "A", mkRedistEvent("A", 1, now)); err != nil {
		t.Fatalf("BufferEvent: %v", err)
	}
	target.mu.Lock()
	flushedSoFar := len(target.persisted)
	target.mu.Unlock()
	if flushedSoFar != 0 {
		t.Fatalf("expected no flush before threshold, got %d", flushedSoFar)
	}

	hw, err := buf.BufferEvent(ctx, "B", mkRedistEvent("B", 1, now.Add(time.Second)))
	if err != nil {
		t.Fatalf("BufferEvent: %v", err)
	}
	if _, ok := hw["A"]; !ok {
		t.Fatal("expected high-water mark for origin A")
	}
	if _, ok := hw["B"]; !ok {
		t.Fatal("expected high-water mark for origin B")
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.persisted) != 1 || len(target.persisted[0]) != 2 {
		t.Fatalf("expected one flush of 2 events, got %+v", target.persisted)
	}
}

func TestEventPersisterBufferMergesByGlobalOrderAcrossOrigins(t *testing.T) {
	target := &fakeTargetPersister{}
	buf := NewEventPersisterBuffer(10, target)
	ctx := context.Background()
	now := time.Now().UTC()

	e1 := mkRedistEvent("A", 1, now.Add(2*time.Second))
	e2 := mkRedistEvent("B", 1, now)
	e3 := mkRedistEvent("A", 2, now.Add(time.Second))

	for _, e := range []events.TemporalEvent{e1, e2, e3} {
		if _, err := buf.BufferEvent(ctx, "x", e); err != nil {
			t.Fatalf("BufferEvent: %v", err)
		}
	}
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.persisted) != 1 || len(target.persisted[0]) != 3 {
		t.Fatalf("expected one flush of 3 events, got %+v", target.persisted)
	}
	got := target.persisted[0]
	if got[0].EventID != e2.EventID || got[1].EventID != e3.EventID || got[2].EventID != e1.EventID {
		t.Fatalf("expected merged order e2,e3,e1 by OccurredTime, got %+v", got)
	}
}

func TestEventPersisterBufferRestoresPendingOnPersistFailure(t *testing.T) {
	target := &fakeTargetPersister{failNext: true}
	buf := NewEventPersisterBuffer(1, target)
	ctx := context.Background()

	if _, err := buf.BufferEvent(ctx, "A", mkRedistEvent("A", 1, time.Now().UTC())); err == nil {
		t.Fatal("expected BufferEvent to surface the persist failure")
	}

	target.failNext = false
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("expected retried flush to succeed, got %v", err)
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.persisted) != 1 || len(target.persisted[0]) != 1 {
		t.Fatalf("expected the restored event to be persisted on retry, got %+v", target.persisted)
	}
}
