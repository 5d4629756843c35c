package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/events"
)

// MemoryStore is an in-process Temporal Bulk Persister, grounded on the
// teacher's HotCache (internal/memory/hot_cache.go): a single mutex guarding
// a slice, with no external dependency. It is the reference implementation
// used by unit tests and local single-node runs; dgraphstore.Store is the
// production implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	evts   []events.TemporalEvent
	seen   map[uuid.UUID]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[uuid.UUID]struct{})}
}

// PersistEvents appends evts and keeps the whole log sorted by
// (OccurredTime, SequenceNumber, EventID); events that compare equal keep
// their relative order. In ignorePreExisting mode, events whose EventID has already been persisted
// are silently skipped (spec.md §4.3) so retries and cross-shard copies are
// idempotent.
func (s *MemoryStore) PersistEvents(ctx context.Context, evts []events.TemporalEvent, ignorePreExisting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range evts {
		if _, dup := s.seen[e.EventID]; dup {
			if ignorePreExisting {
				continue
			}
		}
		s.evts = append(s.evts, e)
		s.seen[e.EventID] = struct{}{}
	}
	sort.SliceStable(s.evts, func(i, j int) bool { return s.evts[i].Less(s.evts[j]) })
	return nil
}

// Load returns the bitemporal snapshot at stateTime (nil means now).
func (s *MemoryStore) Load(ctx context.Context, stateTime *time.Time) (AccessManagerState, []events.TemporalEvent, error) {
	cutoff := time.Now().UTC()
	if stateTime != nil {
		if stateTime.Location() != time.UTC {
			return AccessManagerState{}, nil, apperrors.New(apperrors.KindInvalidParameter, "stateTime must be UTC")
		}
		if stateTime.After(time.Now().UTC()) {
			return AccessManagerState{}, nil, apperrors.New(apperrors.KindInvalidParameter, "stateTime must not be in the future")
		}
		cutoff = *stateTime
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshot []events.TemporalEvent
	for _, e := range s.evts {
		if e.OccurredTime.After(cutoff) {
			break
		}
		snapshot = append(snapshot, e)
	}
	if len(snapshot) == 0 {
		return AccessManagerState{}, nil, apperrors.New(apperrors.KindPersistentStorageEmpty, "no events have been persisted as of the requested state time")
	}
	return stateOf(snapshot), snapshot, nil
}

// LoadAt returns the snapshot as of the transaction time of eventID.
func (s *MemoryStore) LoadAt(ctx context.Context, eventID uuid.UUID) (AccessManagerState, []events.TemporalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(eventID)
	if idx < 0 {
		return AccessManagerState{}, nil, apperrors.New(apperrors.KindElementNotFound, "no event with id %s", eventID)
	}
	snapshot := append([]events.TemporalEvent(nil), s.evts[:idx+1]...)
	return stateOf(snapshot), snapshot, nil
}

// GetInitialEvent returns the first event ever persisted.
func (s *MemoryStore) GetInitialEvent(ctx context.Context) (events.TemporalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.evts) == 0 {
		return events.TemporalEvent{}, apperrors.New(apperrors.KindPersistentStorageEmpty, "no events have been persisted")
	}
	return s.evts[0], nil
}

// GetNextEventAfter returns the event immediately following eventID.
func (s *MemoryStore) GetNextEventAfter(ctx context.Context, eventID uuid.UUID) (events.TemporalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(eventID)
	if idx < 0 {
		return events.TemporalEvent{}, apperrors.New(apperrors.KindElementNotFound, "no event with id %s", eventID)
	}
	if idx+1 >= len(s.evts) {
		return events.TemporalEvent{}, apperrors.New(apperrors.KindElementNotFound, "no event after %s", eventID)
	}
	return s.evts[idx+1], nil
}

// GetEvents returns every event in [fromEventID, toEventID] in persisted
// order. A zero toEventID means "through the newest event".
func (s *MemoryStore) GetEvents(ctx context.Context, fromEventID uuid.UUID, toEventID uuid.UUID) ([]events.TemporalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := s.indexOf(fromEventID)
	if from < 0 {
		return nil, apperrors.New(apperrors.KindElementNotFound, "no event with id %s", fromEventID)
	}
	to := len(s.evts) - 1
	if toEventID != uuid.Nil {
		idx := s.indexOf(toEventID)
		if idx < 0 {
			return nil, apperrors.New(apperrors.KindElementNotFound, "no event with id %s", toEventID)
		}
		to = idx
	}
	if to < from {
		return nil, nil
	}
	return append([]events.TemporalEvent(nil), s.evts[from:to+1]...), nil
}

func (s *MemoryStore) indexOf(id uuid.UUID) int {
	for i, e := range s.evts {
		if e.EventID == id {
			return i
		}
	}
	return -1
}

func stateOf(evts []events.TemporalEvent) AccessManagerState {
	if len(evts) == 0 {
		return AccessManagerState{}
	}
	last := evts[len(evts)-1]
	return AccessManagerState{
		LastEventID:         last.EventID,
		TransactionTime:     last.OccurredTime,
		TransactionSequence: last.SequenceNumber,
	}
}
