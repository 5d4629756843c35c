// Package events implements the per-element-typed event buffer (spec.md
// §4.4, component D), the pluggable flush-trigger strategy (component E),
// and the persister buffer that validates, fans events into the buffer and
// flushes them to a Temporal Bulk Persister (component G).
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/applicationaccess/core/internal/accessmanager"
)

// Action is the event action tag (spec.md §3).
type Action string

const (
	ActionAdd    Action = "Add"
	ActionRemove Action = "Remove"
)

// Kind identifies which of the ten parallel FIFO queues an event belongs to
// (spec.md §4.4). Declared in a fixed order because the buffer's queues and
// the flush merge both need a stable enumeration to range over.
type Kind int

const (
	KindUser Kind = iota
	KindGroup
	KindUserToGroupMapping
	KindGroupToGroupMapping
	KindUserComponentAccess
	KindGroupComponentAccess
	KindEntityType
	KindEntity
	KindUserToEntityMapping
	KindGroupToEntityMapping
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "User"
	case KindGroup:
		return "Group"
	case KindUserToGroupMapping:
		return "UserToGroupMapping"
	case KindGroupToGroupMapping:
		return "GroupToGroupMapping"
	case KindUserComponentAccess:
		return "UserComponentAccess"
	case KindGroupComponentAccess:
		return "GroupComponentAccess"
	case KindEntityType:
		return "EntityType"
	case KindEntity:
		return "Entity"
	case KindUserToEntityMapping:
		return "UserToEntityMapping"
	case KindGroupToEntityMapping:
		return "GroupToEntityMapping"
	default:
		return "Unknown"
	}
}

// ParseKind is String's inverse, used by persisters that store the kind tag
// as text alongside a serialized payload (see dgraphstore's row schema).
func ParseKind(s string) (Kind, error) {
	for k := Kind(0); k < kindCount; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Payload is the tagged-variant union over all event kinds (spec.md §9
// Design Notes: one variant per event kind, dispatched by a single switch
// rather than a class hierarchy).
type Payload interface {
	Kind() Kind
}

type UserPayload struct{ User string }

func (UserPayload) Kind() Kind { return KindUser }

type GroupPayload struct{ Group string }

func (GroupPayload) Kind() Kind { return KindGroup }

type UserToGroupMappingPayload struct{ User, Group string }

func (UserToGroupMappingPayload) Kind() Kind { return KindUserToGroupMapping }

type GroupToGroupMappingPayload struct{ From, To string }

func (GroupToGroupMappingPayload) Kind() Kind { return KindGroupToGroupMapping }

type UserComponentAccessPayload struct {
	User      string
	Component accessmanager.ApplicationComponent
	Level     accessmanager.AccessLevel
}

func (UserComponentAccessPayload) Kind() Kind { return KindUserComponentAccess }

type GroupComponentAccessPayload struct {
	Group     string
	Component accessmanager.ApplicationComponent
	Level     accessmanager.AccessLevel
}

func (GroupComponentAccessPayload) Kind() Kind { return KindGroupComponentAccess }

type EntityTypePayload struct{ EntityType accessmanager.EntityType }

func (EntityTypePayload) Kind() Kind { return KindEntityType }

type EntityPayload struct {
	EntityType accessmanager.EntityType
	Entity     accessmanager.Entity
}

func (EntityPayload) Kind() Kind { return KindEntity }

type UserToEntityMappingPayload struct {
	User       string
	EntityType accessmanager.EntityType
	Entity     accessmanager.Entity
}

func (UserToEntityMappingPayload) Kind() Kind { return KindUserToEntityMapping }

type GroupToEntityMappingPayload struct {
	Group      string
	EntityType accessmanager.EntityType
	Entity     accessmanager.Entity
}

func (GroupToEntityMappingPayload) Kind() Kind { return KindGroupToEntityMapping }

// TemporalEvent is spec.md §3's event envelope.
type TemporalEvent struct {
	EventID        uuid.UUID
	Action         Action
	OccurredTime   time.Time
	SequenceNumber int64
	Payload        Payload
}

// Less orders events by (OccurredTime, SequenceNumber), breaking any
// remaining tie by EventID (spec.md §9: UUID is the final tiebreaker).
func (e TemporalEvent) Less(other TemporalEvent) bool {
	if !e.OccurredTime.Equal(other.OccurredTime) {
		return e.OccurredTime.Before(other.OccurredTime)
	}
	if e.SequenceNumber != other.SequenceNumber {
		return e.SequenceNumber < other.SequenceNumber
	}
	return e.EventID.String() < other.EventID.String()
}
