// Package persistence implements the Temporal Bulk Persister (spec.md §4.3,
// component F): append-only event storage with bitemporal replay. Concrete
// stores live in sibling packages (dgraphstore for production, this package
// for an in-memory implementation used in tests and local development).
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/applicationaccess/core/internal/accessmanager"
	"github.com/applicationaccess/core/internal/events"
)

// AccessManagerState is the bitemporal read-model position spec.md §4.3
// returns alongside a snapshot: the last event applied and the transaction
// coordinates it was applied at.
type AccessManagerState struct {
	LastEventID         uuid.UUID
	TransactionTime     time.Time
	TransactionSequence int64
}

// Persister is the full Temporal Bulk Persister contract (spec.md §4.3).
// It embeds events.Persister so a PersisterBuffer can be wired directly to
// any concrete implementation here without an adapter.
type Persister interface {
	events.Persister

	// Load returns the bitemporal snapshot as of stateTime (nil means now).
	// stateTime must be UTC and not in the future.
	Load(ctx context.Context, stateTime *time.Time) (AccessManagerState, []events.TemporalEvent, error)

	// LoadAt returns the snapshot as of the transaction time of eventID.
	LoadAt(ctx context.Context, eventID uuid.UUID) (AccessManagerState, []events.TemporalEvent, error)

	// GetInitialEvent returns the first event ever persisted.
	GetInitialEvent(ctx context.Context) (events.TemporalEvent, error)

	// GetNextEventAfter returns the event immediately following eventID in
	// persisted order, used by the redistributor's cross-shard iterator.
	GetNextEventAfter(ctx context.Context, eventID uuid.UUID) (events.TemporalEvent, error)

	// GetEvents returns every event in [fromEventID, toEventID] in
	// persisted order. A zero toEventID means "through the newest event".
	GetEvents(ctx context.Context, fromEventID uuid.UUID, toEventID uuid.UUID) ([]events.TemporalEvent, error)
}

// Replay re-applies a sequence of temporal events, in order, onto manager
// and returns the reconstructed state. cmd/server uses it to rebuild the
// AccessManager from Load's events at startup. It reuses the exact dispatch
// table (events.Apply) the live write path uses (spec.md §9 Design Notes:
// one dispatch table, not duplicated per caller).
func Replay(manager *accessmanager.Concurrent, evts []events.TemporalEvent) (AccessManagerState, error) {
	var state AccessManagerState
	for _, e := range evts {
		if err := events.Apply(manager, e.Action, e.Payload); err != nil {
			return state, err
		}
		state = AccessManagerState{
			LastEventID:         e.EventID,
			TransactionTime:     e.OccurredTime,
			TransactionSequence: e.SequenceNumber,
		}
	}
	return state, nil
}
