package redistribute

import (
	"testing"

	"github.com/applicationaccess/core/internal/events"
)

func TestElementOfExtractsOwningElementPerPayloadKind(t *testing.T) {
	cases := []struct {
		payload events.Payload
		want    string
		ok      bool
	}{
		{events.UserPayload{User: "alice"}, "alice", true},
		{events.GroupPayload{Group: "admins"}, "admins", true},
		{events.UserToGroupMappingPayload{User: "alice", Group: "admins"}, "alice", true},
		{events.GroupToGroupMappingPayload{From: "g1", To: "g2"}, "g1", true},
		{events.EntityTypePayload{EntityType: "Client"}, "", false},
	}
	for _, c := range cases {
		e := events.TemporalEvent{Payload: c.payload}
		got, ok := ElementOf(e)
		if ok != c.ok || got != c.want {
			t.Fatalf("ElementOf(%+v) = (%q, %v), want (%q, %v)", c.payload, got, ok, c.want, c.ok)
		}
	}
}
