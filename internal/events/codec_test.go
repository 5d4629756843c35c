package events

import "testing"

func TestEncodeDecodePayloadRoundTrips(t *testing.T) {
	cases := []Payload{
		UserPayload{User: "u1"},
		GroupPayload{Group: "g1"},
		UserToGroupMappingPayload{User: "u1", Group: "g1"},
		GroupToGroupMappingPayload{From: "g1", To: "g2"},
		EntityTypePayload{EntityType: "Report"},
		EntityPayload{EntityType: "Report", Entity: "R123"},
	}

	for _, want := range cases {
		raw, err := EncodePayload(want)
		if err != nil {
			t.Fatalf("encode %T: %v", want, err)
		}
		got, err := DecodePayload(want.Kind(), raw)
		if err != nil {
			t.Fatalf("decode %T: %v", want, err)
		}
		if got != want {
			t.Fatalf("round-trip mismatch: want %+v, got %+v", want, got)
		}
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	if _, err := DecodePayload(Kind(999), []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
