package shardconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// seedFile mirrors the on-disk bootstrap format: a flat list of ranges per
// (DataElementType, OperationType) pair, each naming the shard group's
// client configuration as an arbitrary YAML map that gets re-encoded as the
// entry's opaque ClientConfiguration JSON.
type seedFile struct {
	Entries []seedEntry `yaml:"entries"`
}

type seedEntry struct {
	DataElementType     string         `yaml:"dataElementType"`
	OperationType       string         `yaml:"operationType"`
	HashRangeStart      int32          `yaml:"hashRangeStart"`
	ClientConfiguration map[string]any `yaml:"clientConfiguration"`
}

// LoadBootstrapFile reads a YAML seed file describing the initial shard
// configuration (one shard group per partition, HashRangeStart ==
// HashRangeMin, covering the entire hash space) and returns the equivalent
// Entry values, ready to be passed to Set.Update(_, false, now) at startup.
func LoadBootstrapFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard configuration seed %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse shard configuration seed %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(seed.Entries))
	for _, se := range seed.Entries {
		cfg, err := json.Marshal(se.ClientConfiguration)
		if err != nil {
			return nil, fmt.Errorf("failed to encode client configuration for %s/%s: %w", se.DataElementType, se.OperationType, err)
		}
		entries = append(entries, Entry{
			DataElementType:     DataElementType(se.DataElementType),
			OperationType:       OperationType(se.OperationType),
			HashRangeStart:      se.HashRangeStart,
			ClientConfiguration: cfg,
		})
	}
	return entries, nil
}

// fallbackBootstrap returns a single shard-group configuration covering the
// full hash range for every (DataElementType, OperationType) pair, used
// when no seed file is configured (spec.md §4.5: the set must never be
// empty once the service is serving traffic).
func fallbackBootstrap(target string) []Entry {
	det := []DataElementType{DataElementUser, DataElementGroup, DataElementGroupToGroupMapping}
	ops := []OperationType{OperationQuery, OperationEvent}

	cfg, _ := json.Marshal(map[string]any{"target": target})

	entries := make([]Entry, 0, len(det)*len(ops))
	for _, d := range det {
		for _, o := range ops {
			entries = append(entries, Entry{
				DataElementType:     d,
				OperationType:       o,
				HashRangeStart:      HashRangeMin,
				ClientConfiguration: cfg,
			})
		}
	}
	return entries
}

// Bootstrap loads entries from path if non-empty, falling back to a single
// full-range shard group pointed at target, then applies them to s as of
// now.
func Bootstrap(s *Set, path, target string, now time.Time) error {
	var entries []Entry
	var err error
	if path != "" {
		entries, err = LoadBootstrapFile(path)
		if err != nil {
			return err
		}
	} else {
		entries = fallbackBootstrap(target)
	}
	return s.Update(entries, false, now)
}
