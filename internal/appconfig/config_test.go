package appconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("EVENT_BUFFER_SIZE_LIMIT")

	cfg := Load()
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, 500, cfg.EventBufferSizeLimit)
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	os.Setenv("PORT", "9090")
	os.Setenv("EVENT_BUFFER_FLUSH_PERIOD", "250ms")
	os.Setenv("DEPENDENCY_FREE_WRITER", "false")
	defer os.Unsetenv("PORT")
	defer os.Unsetenv("EVENT_BUFFER_FLUSH_PERIOD")
	defer os.Unsetenv("DEPENDENCY_FREE_WRITER")

	cfg := Load()
	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected overridden port 9090, got %s", cfg.HTTPPort)
	}
	if cfg.EventBufferFlushPeriod != 250*time.Millisecond {
		t.Fatalf("expected overridden flush period, got %s", cfg.EventBufferFlushPeriod)
	}
	if cfg.DependencyFreeWriter {
		t.Fatal("expected DependencyFreeWriter override to false")
	}
}

func TestLoadFallsBackOnUnparsableOverride(t *testing.T) {
	os.Setenv("EVENT_BUFFER_SIZE_LIMIT", "not-a-number")
	defer os.Unsetenv("EVENT_BUFFER_SIZE_LIMIT")

	cfg := Load()
	if cfg.EventBufferSizeLimit != 500 {
		t.Fatalf("expected fallback to default on unparsable value, got %d", cfg.EventBufferSizeLimit)
	}
}
