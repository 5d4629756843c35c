package redistribute

import "github.com/applicationaccess/core/internal/events"

// ElementOf extracts the routing element a TemporalEvent's payload belongs
// to — the user, the group, or (for group-to-group mappings) the
// from-group, matching the Operation Router's definition of "element"
// (spec.md §4.5). Events whose kind has no single owning element (entity
// type and entity definitions) return ok=false; they route identically everywhere and
// are copied unconditionally during a split.
func ElementOf(e events.TemporalEvent) (element string, ok bool) {
	switch p := e.Payload.(type) {
	case events.UserPayload:
		return p.User, true
	case events.GroupPayload:
		return p.Group, true
	case events.UserToGroupMappingPayload:
		return p.User, true
	case events.GroupToGroupMappingPayload:
		return p.From, true
	case events.UserComponentAccessPayload:
		return p.User, true
	case events.GroupComponentAccessPayload:
		return p.Group, true
	case events.UserToEntityMappingPayload:
		return p.User, true
	case events.GroupToEntityMappingPayload:
		return p.Group, true
	default:
		return "", false
	}
}
