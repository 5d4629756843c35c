package shardconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadBootstrapFileParsesSeedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	content := `
entries:
  - dataElementType: User
    operationType: Query
    hashRangeStart: -2147483648
    clientConfiguration:
      target: shard-a
      weight: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	entries, err := LoadBootstrapFile(path)
	if err != nil {
		t.Fatalf("LoadBootstrapFile: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.DataElementType != DataElementUser || e.OperationType != OperationQuery {
		t.Fatalf("unexpected entry key: %+v", e)
	}
	if e.HashRangeStart != HashRangeMin {
		t.Fatalf("expected HashRangeMin, got %d", e.HashRangeStart)
	}
	cfg := string(e.ClientConfiguration)
	if !strings.Contains(cfg, `"target":"shard-a"`) || !strings.Contains(cfg, `"weight":1`) {
		t.Fatalf("unexpected client configuration: %s", cfg)
	}
}

func TestBootstrapWithoutSeedFileCoversFullHashSpaceForEveryPartition(t *testing.T) {
	s := mustNew(t)
	if err := Bootstrap(s, "", "shard-default", time.Now().UTC()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	for _, det := range []DataElementType{DataElementUser, DataElementGroup, DataElementGroupToGroupMapping} {
		for _, op := range []OperationType{OperationQuery, OperationEvent} {
			if _, err := s.Query(det, op, HashRangeMin); err != nil {
				t.Fatalf("Query(%s, %s, min): %v", det, op, err)
			}
			if _, err := s.Query(det, op, HashRangeMax); err != nil {
				t.Fatalf("Query(%s, %s, max): %v", det, op, err)
			}
		}
	}
}
