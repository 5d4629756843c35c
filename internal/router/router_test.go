package router

import (
	"context"
	"testing"
	"time"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/shardconfig"
)

func newTestRouter(t *testing.T) (*Router, *shardconfig.Set) {
	t.Helper()
	shards, err := shardconfig.New(16)
	if err != nil {
		t.Fatalf("shardconfig.New: %v", err)
	}
	if err := shards.Update([]shardconfig.Entry{
		{DataElementType: shardconfig.DataElementUser, OperationType: shardconfig.OperationQuery, HashRangeStart: shardconfig.HashRangeMin, ClientConfiguration: []byte(`{"target":"shard-a"}`)},
	}, false, time.Now().UTC()); err != nil {
		t.Fatalf("seed Update: %v", err)
	}

	r, err := New(shards, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, shards
}

func TestRouteResolvesLiveEntryForElement(t *testing.T) {
	r, _ := newTestRouter(t)

	entry, err := r.Route(shardconfig.DataElementUser, shardconfig.OperationQuery, "alice")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if string(entry.ClientConfiguration) != `{"target":"shard-a"}` {
		t.Fatalf("unexpected client configuration: %s", entry.ClientConfiguration)
	}
}

func TestStableHashIsDeterministic(t *testing.T) {
	if StableHash("alice") != StableHash("alice") {
		t.Fatal("expected StableHash to be deterministic for the same element")
	}
}

func TestPauseOperationsRejectsNewRoutesUntilResumed(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.PauseOperations(ctx); err != nil {
		t.Fatalf("PauseOperations: %v", err)
	}
	if _, err := r.Route(shardconfig.DataElementUser, shardconfig.OperationQuery, "alice"); !apperrors.Is(err, apperrors.KindServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable while paused, got %v", err)
	}

	if err := r.ResumeOperations(ctx); err != nil {
		t.Fatalf("ResumeOperations: %v", err)
	}
	if _, err := r.Route(shardconfig.DataElementUser, shardconfig.OperationQuery, "alice"); err != nil {
		t.Fatalf("expected Route to succeed after resume, got %v", err)
	}
}

func TestSwitchOnRewiresRangeToNewTarget(t *testing.T) {
	r, shards := newTestRouter(t)
	now := time.Now().UTC()

	if err := r.SwitchOn(shardconfig.DataElementUser, shardconfig.OperationQuery, shardconfig.HashRangeMin, []byte(`{"target":"shard-b"}`), now); err != nil {
		t.Fatalf("SwitchOn: %v", err)
	}

	entry, err := shards.Query(shardconfig.DataElementUser, shardconfig.OperationQuery, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if string(entry.ClientConfiguration) != `{"target":"shard-b"}` {
		t.Fatalf("expected shard-b after SwitchOn, got %s", entry.ClientConfiguration)
	}
}

func TestSwitchOffRevertsRangeToPriorTarget(t *testing.T) {
	r, shards := newTestRouter(t)
	now := time.Now().UTC()

	if err := r.SwitchOn(shardconfig.DataElementUser, shardconfig.OperationQuery, shardconfig.HashRangeMin, []byte(`{"target":"shard-b"}`), now); err != nil {
		t.Fatalf("SwitchOn: %v", err)
	}
	if err := r.SwitchOff(shardconfig.DataElementUser, shardconfig.OperationQuery, shardconfig.HashRangeMin, []byte(`{"target":"shard-a"}`), now.Add(time.Second)); err != nil {
		t.Fatalf("SwitchOff: %v", err)
	}

	entry, err := shards.Query(shardconfig.DataElementUser, shardconfig.OperationQuery, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if string(entry.ClientConfiguration) != `{"target":"shard-a"}` {
		t.Fatalf("expected reverted shard-a after SwitchOff, got %s", entry.ClientConfiguration)
	}
}
