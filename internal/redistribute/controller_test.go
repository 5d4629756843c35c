package redistribute

import (
	"context"
	"testing"
	"time"

	"github.com/applicationaccess/core/internal/events"
	"github.com/applicationaccess/core/internal/persistence"
	"github.com/applicationaccess/core/internal/router"
	"github.com/applicationaccess/core/internal/shardconfig"
)

type noopReleaser struct{}

func (noopReleaser) Release() {}

func fakeLock(ctx context.Context, key string, timeout time.Duration) (Releaser, error) {
	return noopReleaser{}, nil
}

type noopWriter struct{}

func (noopWriter) FlushEventBuffers(ctx context.Context) error { return nil }
func (noopWriter) GetEventProcessingCount() int                { return 0 }

func newTestRouterAndSet(t *testing.T) (*router.Router, *shardconfig.Set) {
	t.Helper()
	shards, err := shardconfig.New(16)
	if err != nil {
		t.Fatalf("shardconfig.New: %v", err)
	}
	if err := shards.Update([]shardconfig.Entry{
		{DataElementType: shardconfig.DataElementUser, OperationType: shardconfig.OperationEvent, HashRangeStart: shardconfig.HashRangeMin, ClientConfiguration: []byte(`{"target":"shard-a"}`)},
	}, false, time.Now().UTC()); err != nil {
		t.Fatalf("seed Update: %v", err)
	}
	r, err := router.New(shards, nil, nil)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return r, shards
}

func TestSplitMovesInRangeEventsToTargetAndFlipsRouting(t *testing.T) {
	ctx := context.Background()
	source := persistence.NewMemoryStore()
	target := persistence.NewMemoryStore()

	seed := []events.TemporalEvent{
		{EventID: mustUUID(t, 1), Action: events.ActionAdd, OccurredTime: time.Unix(1, 0).UTC(), SequenceNumber: 1, Payload: events.UserPayload{User: "alice"}},
		{EventID: mustUUID(t, 2), Action: events.ActionAdd, OccurredTime: time.Unix(2, 0).UTC(), SequenceNumber: 2, Payload: events.UserPayload{User: "bob"}},
	}
	if err := source.PersistEvents(ctx, seed, false); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	sourceRouter, _ := newTestRouterAndSet(t)
	targetRouter, _ := newTestRouterAndSet(t)

	ctrl := NewController(fakeLock, nil)
	cfg := SplitConfig{
		DataElementType:           shardconfig.DataElementUser,
		OperationType:             shardconfig.OperationEvent,
		InRange:                   func(hash int32) bool { return router.StableHash("alice") == hash },
		RangeStart:                shardconfig.HashRangeMin,
		TargetClientConfiguration: []byte(`{"target":"shard-b"}`),
		EventBatchSize:            10,
		Quiesce:                   QuiesceConfig{MaxRetries: 1, RetryInterval: time.Millisecond},
	}

	err := ctrl.Split(ctx, cfg, noopWriter{}, source, target, sourceRouter, targetRouter)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	targetState, targetEvts, err := target.Load(ctx, nil)
	if err != nil {
		t.Fatalf("target.Load: %v", err)
	}
	if len(targetEvts) != 1 || targetEvts[0].Payload.(events.UserPayload).User != "alice" {
		t.Fatalf("expected only alice's event copied to target, got %+v", targetEvts)
	}
	_ = targetState

	entry, err := sourceRouter.Route(shardconfig.DataElementUser, shardconfig.OperationEvent, "alice")
	if err != nil {
		t.Fatalf("post-split Route: %v", err)
	}
	if string(entry.ClientConfiguration) != `{"target":"shard-b"}` {
		t.Fatalf("expected alice's range to route to shard-b after split, got %s", entry.ClientConfiguration)
	}
}

func mustUUID(t *testing.T, seed byte) (id [16]byte) {
	t.Helper()
	id[15] = seed
	return id
}
