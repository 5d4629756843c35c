package accessmanager

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedReader wraps a Concurrent AccessManager with a Ristretto read-through
// cache of HasAccessToApplicationComponent results, the way the teacher's
// internal/cache.L1Cache fronts DGraph reads. Entries carry no TTL and are
// dropped only by InvalidateUser or Clear, which both empty the whole
// cache; CachedReader does not observe mutations on inner by itself.
type CachedReader struct {
	inner *Concurrent
	cache *ristretto.Cache[string, bool]
}

// NewCachedReader wraps inner with an in-memory result cache sized for
// maxCost entries (cost is counted as 1 per cached boolean).
func NewCachedReader(inner *Concurrent, maxCost int64) (*CachedReader, error) {
	if maxCost <= 0 {
		maxCost = 100000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create access-manager read cache: %w", err)
	}
	return &CachedReader{inner: inner, cache: c}, nil
}

func componentCacheKey(user string, component ApplicationComponent, level AccessLevel) string {
	return fmt.Sprintf("c:%s:%s:%s", user, component, level)
}

// HasAccessToApplicationComponent answers from cache when possible, falling
// through to the underlying Concurrent AccessManager and caching the result
// on a miss.
func (r *CachedReader) HasAccessToApplicationComponent(user string, component ApplicationComponent, level AccessLevel) (bool, error) {
	key := componentCacheKey(user, component, level)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	result, err := r.inner.HasAccessToApplicationComponent(user, component, level)
	if err != nil {
		return false, err
	}
	r.cache.Set(key, result, 1)
	return result, nil
}

// InvalidateUser drops every cached answer keyed to user (and, as
// implemented, every other cached answer too). Nothing in this module calls
// it automatically after a mutation.
func (r *CachedReader) InvalidateUser(user string) {
	// Ristretto has no prefix-scan; the cache is invalidated wholesale on
	// any write touching a user, trading a broader cache miss for
	// correctness rather than tracking per-key reverse indexes.
	r.cache.Clear()
}

// Clear empties the cache unconditionally.
func (r *CachedReader) Clear() {
	r.cache.Clear()
}
