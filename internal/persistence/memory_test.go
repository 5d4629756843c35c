package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/events"
)

func mkEvent(seq int64, occurred time.Time, payload events.Payload) events.TemporalEvent {
	return events.TemporalEvent{
		EventID:        uuid.New(),
		Action:         events.ActionAdd,
		OccurredTime:   occurred,
		SequenceNumber: seq,
		Payload:        payload,
	}
}

func TestMemoryStoreLoadEmptyIsPersistentStorageEmpty(t *testing.T) {
	s := NewMemoryStore()
	_, _, err := s.Load(context.Background(), nil)
	if !apperrors.Is(err, apperrors.KindPersistentStorageEmpty) {
		t.Fatalf("expected PersistentStorageEmpty, got %v", err)
	}
}

func TestMemoryStorePersistAndLoad(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	e1 := mkEvent(1, now, events.UserPayload{User: "u1"})
	e2 := mkEvent(2, now.Add(time.Millisecond), events.GroupPayload{Group: "g1"})

	if err := s.PersistEvents(context.Background(), []events.TemporalEvent{e1, e2}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, snapshot, err := s.Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 events in snapshot, got %d", len(snapshot))
	}
	if state.LastEventID != e2.EventID {
		t.Fatalf("expected last event id %s, got %s", e2.EventID, state.LastEventID)
	}
}

func TestMemoryStorePersistEventsIgnoresPreExistingOnRetry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	e1 := mkEvent(1, now, events.UserPayload{User: "u1"})

	if err := s.PersistEvents(context.Background(), []events.TemporalEvent{e1}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Retry of the same batch must be idempotent.
	if err := s.PersistEvents(context.Background(), []events.TemporalEvent{e1}, true); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}

	_, snapshot, err := s.Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected idempotent retry to leave exactly 1 event, got %d", len(snapshot))
	}
}

func TestMemoryStoreLoadBeforeFirstEventIsPersistentStorageEmpty(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	e1 := mkEvent(1, now, events.UserPayload{User: "u1"})
	if err := s.PersistEvents(context.Background(), []events.TemporalEvent{e1}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := now.Add(-time.Hour)
	_, snapshot, err := s.Load(context.Background(), &before)
	if !apperrors.Is(err, apperrors.KindPersistentStorageEmpty) {
		t.Fatalf("expected PersistentStorageEmpty for a stateTime before the first event, got %v (snapshot len %d)", err, len(snapshot))
	}
}

func TestMemoryStoreLoadRejectsFutureStateTime(t *testing.T) {
	s := NewMemoryStore()
	future := time.Now().UTC().Add(time.Hour)
	_, _, err := s.Load(context.Background(), &future)
	if !apperrors.Is(err, apperrors.KindInvalidParameter) {
		t.Fatalf("expected InvalidParameter for future stateTime, got %v", err)
	}
}

func TestMemoryStoreGetInitialEventAndNext(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	e1 := mkEvent(1, now, events.UserPayload{User: "u1"})
	e2 := mkEvent(2, now.Add(time.Millisecond), events.GroupPayload{Group: "g1"})
	if err := s.PersistEvents(context.Background(), []events.TemporalEvent{e1, e2}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := s.GetInitialEvent(context.Background())
	if err != nil || first.EventID != e1.EventID {
		t.Fatalf("expected initial event %s, got %+v err=%v", e1.EventID, first, err)
	}

	next, err := s.GetNextEventAfter(context.Background(), e1.EventID)
	if err != nil || next.EventID != e2.EventID {
		t.Fatalf("expected next event %s, got %+v err=%v", e2.EventID, next, err)
	}

	_, err = s.GetNextEventAfter(context.Background(), e2.EventID)
	if !apperrors.Is(err, apperrors.KindElementNotFound) {
		t.Fatalf("expected ElementNotFound for last event's next, got %v", err)
	}
}

func TestMemoryStoreGetEventsRange(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	e1 := mkEvent(1, now, events.UserPayload{User: "u1"})
	e2 := mkEvent(2, now.Add(time.Millisecond), events.GroupPayload{Group: "g1"})
	e3 := mkEvent(3, now.Add(2*time.Millisecond), events.UserPayload{User: "u2"})
	if err := s.PersistEvents(context.Background(), []events.TemporalEvent{e1, e2, e3}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetEvents(context.Background(), e1.EventID, e2.EventID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(got))
	}

	all, err := s.GetEvents(context.Background(), e1.EventID, uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all 3 events with zero toEventID, got %d", len(all))
	}
}
