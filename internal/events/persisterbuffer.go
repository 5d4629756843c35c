package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/applicationaccess/core/internal/accessmanager"
	"github.com/applicationaccess/core/internal/apperrors"
)

// Persister is the subset of the Temporal Bulk Persister (spec.md §4.3)
// the write path needs: append-only, order-preserving batch persistence.
// Declared here (the consumer side) rather than in internal/persistence so
// that package depends on events, not the reverse.
type Persister interface {
	PersistEvents(ctx context.Context, evts []TemporalEvent, ignorePreExisting bool) error
}

// PersisterBuffer validates incoming events against a local AccessManager,
// optionally synthesizes missing prerequisite events (dependency-free
// mode), enqueues into a Buffer, and flushes merged batches to a Persister
// (spec.md §4.4, component G).
type PersisterBuffer struct {
	manager        *accessmanager.Concurrent
	sequencer      *accessmanager.EventSequencer
	buffer         *Buffer
	persister      Persister
	dependencyFree bool
	logger         *zap.Logger

	newEventID func() uuid.UUID
}

// NewPersisterBuffer wires a Buffer, an AccessManager used both as
// validator and as the element existence oracle for dependency-free
// synthesis, and a Persister flush target.
func NewPersisterBuffer(manager *accessmanager.Concurrent, sequencer *accessmanager.EventSequencer, buffer *Buffer, persister Persister, dependencyFree bool, logger *zap.Logger) *PersisterBuffer {
	return &PersisterBuffer{
		manager:        manager,
		sequencer:      sequencer,
		buffer:         buffer,
		persister:      persister,
		dependencyFree: dependencyFree,
		logger:         logger,
		newEventID:     uuid.New,
	}
}

// BufferEvent is the write-path contract of spec.md §4.4: acquire time and
// sequence, validate (and, in dependency-free mode, synthesize missing
// prerequisites), apply to the local AccessManager, then enqueue.
func (b *PersisterBuffer) BufferEvent(action Action, payload Payload) error {
	if b.dependencyFree {
		for _, prereq := range b.missingPrerequisites(payload) {
			if err := b.emit(ActionAdd, prereq); err != nil {
				return fmt.Errorf("failed to synthesize prerequisite event: %w", err)
			}
		}
	}
	return b.emit(action, payload)
}

// emit assigns (time, sequence), applies the mutation to the local
// AccessManager (failing with InvalidEvent before enqueuing if rejected),
// and pushes the event onto its queue.
func (b *PersisterBuffer) emit(action Action, payload Payload) error {
	occurred, seq := b.sequencer.Next()

	if err := Apply(b.manager, action, payload); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidEvent, err, "event rejected by local access manager")
	}

	b.buffer.Push(TemporalEvent{
		EventID:        b.newEventID(),
		Action:         action,
		OccurredTime:   occurred,
		SequenceNumber: seq,
		Payload:        payload,
	})
	return nil
}

// missingPrerequisites inspects payload against the local AccessManager's
// current state and returns the Add payloads (users, groups, entity types,
// entities) that must be synthesized first so the dependent event has referential
// integrity downstream (spec.md §4.4 "dependency-free writer").
func (b *PersisterBuffer) missingPrerequisites(payload Payload) []Payload {
	var prereqs []Payload
	switch p := payload.(type) {
	case UserToGroupMappingPayload:
		if !b.manager.HasUser(p.User) {
			prereqs = append(prereqs, UserPayload{User: p.User})
		}
		if !b.manager.HasGroup(p.Group) {
			prereqs = append(prereqs, GroupPayload{Group: p.Group})
		}
	case GroupToGroupMappingPayload:
		if !b.manager.HasGroup(p.From) {
			prereqs = append(prereqs, GroupPayload{Group: p.From})
		}
		if !b.manager.HasGroup(p.To) {
			prereqs = append(prereqs, GroupPayload{Group: p.To})
		}
	case UserComponentAccessPayload:
		if !b.manager.HasUser(p.User) {
			prereqs = append(prereqs, UserPayload{User: p.User})
		}
	case GroupComponentAccessPayload:
		if !b.manager.HasGroup(p.Group) {
			prereqs = append(prereqs, GroupPayload{Group: p.Group})
		}
	case EntityPayload:
		if !b.manager.HasEntityType(p.EntityType) {
			prereqs = append(prereqs, EntityTypePayload{EntityType: p.EntityType})
		}
	case UserToEntityMappingPayload:
		if !b.manager.HasUser(p.User) {
			prereqs = append(prereqs, UserPayload{User: p.User})
		}
		if !b.manager.HasEntityType(p.EntityType) {
			prereqs = append(prereqs, EntityTypePayload{EntityType: p.EntityType})
		}
		if !b.manager.HasEntity(p.EntityType, p.Entity) {
			prereqs = append(prereqs, EntityPayload{EntityType: p.EntityType, Entity: p.Entity})
		}
	case GroupToEntityMappingPayload:
		if !b.manager.HasGroup(p.Group) {
			prereqs = append(prereqs, GroupPayload{Group: p.Group})
		}
		if !b.manager.HasEntityType(p.EntityType) {
			prereqs = append(prereqs, EntityTypePayload{EntityType: p.EntityType})
		}
		if !b.manager.HasEntity(p.EntityType, p.Entity) {
			prereqs = append(prereqs, EntityPayload{EntityType: p.EntityType, Entity: p.Entity})
		}
	}
	return prereqs
}

// Apply dispatches (action, payload) onto the corresponding AccessManager
// mutation. This is the "eventTypeToPersistenceAction" dispatch table
// spec.md §9 Design Notes calls for, collapsed to a single switch over the
// tagged variant. Exported so the bulk persister's replay/bootstrap path
// (internal/persistence) can reuse the exact same dispatch the live write
// path uses.
func Apply(manager *accessmanager.Concurrent, action Action, payload Payload) error {
	add := action == ActionAdd
	switch p := payload.(type) {
	case UserPayload:
		if add {
			return manager.AddUser(p.User)
		}
		return manager.RemoveUser(p.User)
	case GroupPayload:
		if add {
			return manager.AddGroup(p.Group)
		}
		return manager.RemoveGroup(p.Group)
	case UserToGroupMappingPayload:
		if add {
			return manager.AddUserToGroupMapping(p.User, p.Group)
		}
		return manager.RemoveUserToGroupMapping(p.User, p.Group)
	case GroupToGroupMappingPayload:
		if add {
			return manager.AddGroupToGroupMapping(p.From, p.To)
		}
		return manager.RemoveGroupToGroupMapping(p.From, p.To)
	case UserComponentAccessPayload:
		if add {
			return manager.AddUserToApplicationComponentAndAccessLevelMapping(p.User, p.Component, p.Level)
		}
		return manager.RemoveUserToApplicationComponentAndAccessLevelMapping(p.User, p.Component, p.Level)
	case GroupComponentAccessPayload:
		if add {
			return manager.AddGroupToApplicationComponentAndAccessLevelMapping(p.Group, p.Component, p.Level)
		}
		return manager.RemoveGroupToApplicationComponentAndAccessLevelMapping(p.Group, p.Component, p.Level)
	case EntityTypePayload:
		if add {
			return manager.AddEntityType(p.EntityType)
		}
		return manager.RemoveEntityType(p.EntityType)
	case EntityPayload:
		if add {
			return manager.AddEntity(p.EntityType, p.Entity)
		}
		return manager.RemoveEntity(p.EntityType, p.Entity)
	case UserToEntityMappingPayload:
		if add {
			return manager.AddUserToEntityMapping(p.User, p.EntityType, p.Entity)
		}
		return manager.RemoveUserToEntityMapping(p.User, p.EntityType, p.Entity)
	case GroupToEntityMappingPayload:
		if add {
			return manager.AddGroupToEntityMapping(p.Group, p.EntityType, p.Entity)
		}
		return manager.RemoveGroupToEntityMapping(p.Group, p.EntityType, p.Entity)
	default:
		return fmt.Errorf("unknown event payload type %T", payload)
	}
}

// GetEventProcessingCount reports how many events are currently buffered,
// across all kinds. The redistributor (component J) polls this down to
// zero after FlushEventBuffers to confirm the source writer has quiesced
// before snapshotting its event horizon (spec.md §4.6 step 1).
func (b *PersisterBuffer) GetEventProcessingCount() int {
	total := 0
	for _, n := range b.buffer.Sizes() {
		total += n
	}
	return total
}

// FlushEventBuffers is Flush under the name the redistributor's quiesce
// step calls it by (spec.md §4.6 step 1).
func (b *PersisterBuffer) FlushEventBuffers(ctx context.Context) error {
	_, err := b.Flush(ctx)
	return err
}

// Flush drains a consistent cut of the buffer, merge-sorts it, and persists
// it in one call. On persistence failure the drained events are restored
// to the head of their queues for retry (spec.md §4.4).
func (b *PersisterBuffer) Flush(ctx context.Context) (int, error) {
	cut := b.buffer.Cut()
	if cut == 0 {
		return 0, nil
	}
	drained := b.buffer.Drain(cut)
	if len(drained) == 0 {
		return 0, nil
	}
	if err := b.persister.PersistEvents(ctx, drained, false); err != nil {
		b.buffer.Restore(drained)
		if b.logger != nil {
			b.logger.Warn("persist failed, events restored to buffer", zap.Error(err))
		}
		return 0, apperrors.Wrap(apperrors.KindPersistenceFailure, err, "failed to persist %d events", len(drained))
	}
	return len(drained), nil
}
