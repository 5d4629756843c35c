package tripswitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTripSwitchStartsUntripped(t *testing.T) {
	s := New(nil)
	assert.False(t, s.Tripped(), "expected a fresh switch to be untripped")
}

func TestTripThenResetRoundTrips(t *testing.T) {
	s := New(nil)
	s.Trip("persistence failure budget exhausted")
	assert.True(t, s.Tripped(), "expected switch to be tripped")

	s.Reset()
	assert.False(t, s.Tripped(), "expected switch to be untripped after Reset")
}

func TestTripIsIdempotent(t *testing.T) {
	s := New(nil)
	s.Trip("first")
	s.Trip("second")
	assert.True(t, s.Tripped(), "expected switch to remain tripped")
}
