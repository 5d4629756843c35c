package shardconfig

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/applicationaccess/core/internal/apperrors"
)

// Set is the Shard Configuration Set (spec.md §4.5, component H): a
// bitemporal routing table partitioned by (DataElementType, OperationType),
// each partition covering the full int32 hash range with contiguous,
// non-overlapping, currently-live HashRangeStart bands.
//
// Every mutation holds the set's write lock for its full duration (spec.md
// §5: Update is atomic with respect to concurrent Query/Update calls), the
// same fine-grained-but-exclusive-per-operation shape the teacher's
// Concurrent AccessManager uses for individual elements.
type Set struct {
	mu         sync.RWMutex
	partitions map[partitionKey][]Entry // sorted by HashRangeStart ascending
	cache      *lru.Cache[cacheKey, Entry]
}

type cacheKey struct {
	partitionKey
	hash int32
}

// New builds an empty Set with a lookup cache sized for cacheSize entries.
// A non-positive cacheSize disables caching (lru.New rejects size <= 0).
func New(cacheSize int) (*Set, error) {
	s := &Set{partitions: make(map[partitionKey][]Entry)}
	if cacheSize > 0 {
		c, err := lru.New[cacheKey, Entry](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to size shard configuration cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Query returns the live entry whose HashRangeStart is the largest one not
// exceeding hash, within the given (DataElementType, OperationType)
// partition (spec.md §3: range lookup, not exact match).
func (s *Set) Query(det DataElementType, op OperationType, hash int32) (Entry, error) {
	key := partitionKey{det, op}
	ck := cacheKey{key, hash}

	// The read lock is held through the scan and the cache insert, so an
	// Update (which holds the write lock) can neither rewrite rows mid-scan
	// nor purge the cache between the lookup and the insert.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache != nil {
		if e, ok := s.cache.Get(ck); ok {
			return e, nil
		}
	}
	entries := s.partitions[key]

	// Retired entries share a HashRangeStart with the live entry that
	// replaced them (Update/retireLiveLocked leaves the retired row in
	// place rather than removing it), so the covering-band search must
	// only consider still-live rows.
	live := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.isLive() {
			live = append(live, e)
		}
	}

	if len(live) == 0 {
		return Entry{}, apperrors.New(apperrors.KindElementNotFound, "no shard configuration for %s/%s", det, op)
	}

	// live is sorted ascending by HashRangeStart; find the last one whose
	// start is <= hash.
	idx := sort.Search(len(live), func(i int) bool { return live[i].HashRangeStart > hash }) - 1
	if idx < 0 {
		return Entry{}, apperrors.New(apperrors.KindElementNotFound, "hash %d below lowest configured range for %s/%s", hash, det, op)
	}
	found := live[idx]

	if s.cache != nil {
		s.cache.Add(ck, found)
	}
	return found, nil
}

// Update applies a batch of new entries transactionally (spec.md §4.5): it
// holds the exclusive lock for the whole operation, so no Query interleaves
// a partial rewrite. When deleteExisting is true, every live entry sharing a
// key with one of the new entries is retired (TransactionTo set to now)
// before the new entries are inserted as the live rows; otherwise an
// attempt to insert a new entry over an already-live (det, op,
// HashRangeStart) key fails with ElementAlreadyExists.
func (s *Set) Update(entries []Entry, deleteExisting bool, now time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !deleteExisting {
		for _, e := range entries {
			key := partitionKey{e.DataElementType, e.OperationType}
			for _, existing := range s.partitions[key] {
				if existing.isLive() && existing.HashRangeStart == e.HashRangeStart {
					return apperrors.New(apperrors.KindElementAlreadyExists,
						"live shard configuration entry already exists for %s/%s at %d", e.DataElementType, e.OperationType, e.HashRangeStart)
				}
			}
		}
	}

	touched := make(map[partitionKey]struct{})
	for _, e := range entries {
		key := partitionKey{e.DataElementType, e.OperationType}
		touched[key] = struct{}{}
		if deleteExisting {
			s.retireLiveLocked(key, e.HashRangeStart, now)
		}
		e.TransactionFrom = now
		e.TransactionTo = transactionToMax
		s.partitions[key] = append(s.partitions[key], e)
	}

	for key := range touched {
		rows := s.partitions[key]
		sort.Slice(rows, func(i, j int) bool { return rows[i].HashRangeStart < rows[j].HashRangeStart })
		s.partitions[key] = rows
	}

	if s.cache != nil {
		s.cache.Purge()
	}
	return nil
}

// retireLiveLocked sets TransactionTo=now on the live entry at start within
// key's partition, if one exists. Caller must hold s.mu.
func (s *Set) retireLiveLocked(key partitionKey, start int32, now time.Time) {
	rows := s.partitions[key]
	for i := range rows {
		if rows[i].isLive() && rows[i].HashRangeStart == start {
			rows[i].TransactionTo = now
		}
	}
}

// Snapshot returns every live entry across all partitions.
func (s *Set) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, rows := range s.partitions {
		for _, e := range rows {
			if e.isLive() {
				out = append(out, e)
			}
		}
	}
	return out
}
