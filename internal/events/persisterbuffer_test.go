package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/applicationaccess/core/internal/accessmanager"
)

type fakePersister struct {
	mu       sync.Mutex
	persisted [][]TemporalEvent
	failNext bool
}

func (f *fakePersister) PersistEvents(ctx context.Context, evts []TemporalEvent, ignorePreExisting bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated persistence failure")
	}
	f.persisted = append(f.persisted, evts)
	return nil
}

func newTestPersisterBuffer(dependencyFree bool, persister Persister) (*PersisterBuffer, *accessmanager.Concurrent) {
	mgr := accessmanager.NewConcurrent(accessmanager.New(), accessmanager.NoopObserver{})
	seq := accessmanager.NewEventSequencer(time.Now)
	buf := New(nil)
	return NewPersisterBuffer(mgr, seq, buf, persister, dependencyFree, nil), mgr
}

func TestBufferEventRejectsUnknownUserWithoutDependencyFree(t *testing.T) {
	pb, _ := newTestPersisterBuffer(false, &fakePersister{})

	err := pb.BufferEvent(ActionAdd, UserToGroupMappingPayload{User: "u1", Group: "g1"})
	if err == nil {
		t.Fatal("expected error mapping unknown user/group without dependency-free mode")
	}
}

func TestBufferEventSynthesizesPrerequisitesInDependencyFreeMode(t *testing.T) {
	pb, mgr := newTestPersisterBuffer(true, &fakePersister{})

	if err := pb.BufferEvent(ActionAdd, UserToGroupMappingPayload{User: "u1", Group: "g1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !mgr.HasUser("u1") {
		t.Fatal("expected user to be synthesized")
	}
	if !mgr.HasGroup("g1") {
		t.Fatal("expected group to be synthesized")
	}

	sizes := pb.buffer.Sizes()
	if sizes[KindUser] != 1 || sizes[KindGroup] != 1 || sizes[KindUserToGroupMapping] != 1 {
		t.Fatalf("expected 3 buffered events (2 synthesized + 1 original), got %+v", sizes)
	}
}

func TestBufferEventDoesNotResynthesizeExistingPrerequisites(t *testing.T) {
	pb, mgr := newTestPersisterBuffer(true, &fakePersister{})
	if err := mgr.AddUser("u1"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := pb.BufferEvent(ActionAdd, UserToGroupMappingPayload{User: "u1", Group: "g1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sizes := pb.buffer.Sizes()
	if sizes[KindUser] != 0 {
		t.Fatalf("expected no synthesized User event since u1 already exists, got %d", sizes[KindUser])
	}
	if sizes[KindGroup] != 1 {
		t.Fatalf("expected synthesized Group event, got %d", sizes[KindGroup])
	}
}

func TestFlushPersistsAndEmptiesBuffer(t *testing.T) {
	persister := &fakePersister{}
	pb, _ := newTestPersisterBuffer(true, persister)

	if err := pb.BufferEvent(ActionAdd, UserPayload{User: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := pb.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 flushed event, got %d", n)
	}

	persister.mu.Lock()
	defer persister.mu.Unlock()
	if len(persister.persisted) != 1 || len(persister.persisted[0]) != 1 {
		t.Fatalf("expected persister to receive exactly 1 batch of 1 event, got %+v", persister.persisted)
	}
}

func TestFlushRestoresEventsOnPersistFailure(t *testing.T) {
	persister := &fakePersister{failNext: true}
	pb, _ := newTestPersisterBuffer(true, persister)

	if err := pb.BufferEvent(ActionAdd, UserPayload{User: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := pb.Flush(context.Background())
	if err == nil {
		t.Fatal("expected flush error to propagate")
	}

	sizes := pb.buffer.Sizes()
	if sizes[KindUser] != 1 {
		t.Fatalf("expected event restored to buffer after failed flush, got %d", sizes[KindUser])
	}

	// A subsequent successful flush should pick up the restored event.
	persister.failNext = false
	n, err := pb.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on retry flush: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected restored event to flush on retry, got %d", n)
	}
}

func TestFlushOnEmptyBufferIsNoop(t *testing.T) {
	pb, _ := newTestPersisterBuffer(true, &fakePersister{})

	n, err := pb.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no-op flush to report 0, got %d", n)
	}
}
