package events

import (
	"fmt"

	"github.com/applicationaccess/core/internal/jsonx"
)

// EncodePayload serializes a Payload's fields to JSON for storage; the Kind
// tag itself is stored alongside, out of band (see dgraphstore's row
// schema), since Payload doesn't round-trip its own type information.
func EncodePayload(p Payload) ([]byte, error) {
	return jsonx.Marshal(p)
}

// DecodePayload deserializes raw JSON into the Payload variant named by
// kind. This is the decode half of the same per-kind tagged-variant
// dispatch Apply uses on the write path.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindUser:
		var p UserPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindGroup:
		var p GroupPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindUserToGroupMapping:
		var p UserToGroupMappingPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindGroupToGroupMapping:
		var p GroupToGroupMappingPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindUserComponentAccess:
		var p UserComponentAccessPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindGroupComponentAccess:
		var p GroupComponentAccessPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindEntityType:
		var p EntityTypePayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindEntity:
		var p EntityPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindUserToEntityMapping:
		var p UserToEntityMappingPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	case KindGroupToEntityMapping:
		var p GroupToEntityMappingPayload
		err := jsonx.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown event kind %v", kind)
	}
}
