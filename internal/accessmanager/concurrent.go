package accessmanager

import (
	"sync"
	"sync/atomic"
	"time"
)

// LockSet names the fine-grained mutual-exclusion regions a mutation may
// touch (spec.md §4.3, §9 Design Notes). Acquisition always follows this
// fixed enum order, across every call site, to prevent deadlock — the
// idiom spec.md §9 calls for in place of a reflection-driven
// dictionary-of-locks.
type LockSet int

const (
	LockUsers LockSet = iota
	LockGroups
	LockUserToGroupMappings
	LockGroupToGroupMappings
	LockUserComponentAccess
	LockGroupComponentAccess
	LockEntityTypes
	LockEntities
	LockUserEntities
	LockGroupEntities
	lockSetCount
)

// EventSequencer assigns the strictly increasing (OccurredTime,
// SequenceNumber) pair used to order events from a single writer
// (spec.md §3, §5). It is guarded by its own lock, separate from the named
// mutation regions, so that event emission order always matches lock
// release order.
type EventSequencer struct {
	mu   sync.Mutex
	seq  int64
	now  func() time.Time
}

// NewEventSequencer returns a sequencer using now as its time source (tests
// inject a deterministic clock; production uses time.Now).
func NewEventSequencer(now func() time.Time) *EventSequencer {
	return &EventSequencer{now: now}
}

// Next returns the next (time, sequence) pair under the sequencer's lock.
func (s *EventSequencer) Next() (time.Time, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.now().UTC(), s.seq
}

// Concurrent wraps an AccessManager with the named-lock discipline spec.md
// §4.3 requires: readers run lock-free against the underlying maps (Go maps
// read concurrently with writes are unsafe, so reads still take the
// relevant RLock, but never block on each other), and writers acquire the
// locks touched by their mutation in LockSet order.
type Concurrent struct {
	inner *AccessManager
	locks [lockSetCount]sync.RWMutex

	observer MutationObserver
}

// NewConcurrent wraps inner with the locking discipline. obs may be nil, in
// which case NoopObserver is used.
func NewConcurrent(inner *AccessManager, obs MutationObserver) *Concurrent {
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Concurrent{inner: inner, observer: obs}
}

// withLocks acquires the given locks (deduplicated, sorted ascending to
// respect the fixed global order) and runs fn.
func (c *Concurrent) withLocks(sets []LockSet, fn func() error) error {
	seen := make(map[LockSet]bool, len(sets))
	ordered := make([]LockSet, 0, len(sets))
	for i := LockSet(0); i < lockSetCount; i++ {
		for _, s := range sets {
			if s == i && !seen[i] {
				seen[i] = true
				ordered = append(ordered, i)
			}
		}
	}
	for _, s := range ordered {
		c.locks[s].Lock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			c.locks[ordered[i]].Unlock()
		}
	}()
	return fn()
}

func (c *Concurrent) withRLocks(sets []LockSet, fn func()) {
	seen := make(map[LockSet]bool, len(sets))
	ordered := make([]LockSet, 0, len(sets))
	for i := LockSet(0); i < lockSetCount; i++ {
		for _, s := range sets {
			if s == i && !seen[i] {
				seen[i] = true
				ordered = append(ordered, i)
			}
		}
	}
	for _, s := range ordered {
		c.locks[s].RLock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			c.locks[ordered[i]].RUnlock()
		}
	}()
	fn()
}

// mutate runs op under the named locks, reporting the outcome to the
// observer (§9, §12 — the interceptor chain metrics live in).
func (c *Concurrent) mutate(name string, sets []LockSet, op func() error) error {
	c.observer.OnBegin(name)
	var count int64
	err := c.withLocks(sets, func() error {
		return op()
	})
	if err != nil {
		c.observer.OnStatus(name, err)
		c.observer.OnEnd(name, 0)
		return err
	}
	atomic.AddInt64(&count, 1)
	c.observer.OnCount(name, count)
	c.observer.OnStatus(name, nil)
	c.observer.OnEnd(name, count)
	return nil
}

func (c *Concurrent) AddUser(user string) error {
	return c.mutate("AddUser", []LockSet{LockUsers}, func() error { return c.inner.AddUser(user) })
}

func (c *Concurrent) AddGroup(group string) error {
	return c.mutate("AddGroup", []LockSet{LockGroups}, func() error { return c.inner.AddGroup(group) })
}

func (c *Concurrent) RemoveUser(user string) error {
	return c.mutate("RemoveUser", []LockSet{LockUsers, LockUserToGroupMappings, LockUserComponentAccess, LockUserEntities}, func() error {
		return c.inner.RemoveUser(user)
	})
}

func (c *Concurrent) RemoveGroup(group string) error {
	return c.mutate("RemoveGroup", []LockSet{LockGroups, LockUserToGroupMappings, LockGroupToGroupMappings, LockGroupComponentAccess, LockGroupEntities}, func() error {
		return c.inner.RemoveGroup(group)
	})
}

func (c *Concurrent) AddUserToGroupMapping(user, group string) error {
	return c.mutate("AddUserToGroupMapping", []LockSet{LockUsers, LockGroups, LockUserToGroupMappings}, func() error {
		return c.inner.AddUserToGroupMapping(user, group)
	})
}

func (c *Concurrent) RemoveUserToGroupMapping(user, group string) error {
	return c.mutate("RemoveUserToGroupMapping", []LockSet{LockUserToGroupMappings}, func() error {
		return c.inner.RemoveUserToGroupMapping(user, group)
	})
}

func (c *Concurrent) AddGroupToGroupMapping(from, to string) error {
	return c.mutate("AddGroupToGroupMapping", []LockSet{LockGroups, LockGroupToGroupMappings}, func() error {
		return c.inner.AddGroupToGroupMapping(from, to)
	})
}

func (c *Concurrent) RemoveGroupToGroupMapping(from, to string) error {
	return c.mutate("RemoveGroupToGroupMapping", []LockSet{LockGroupToGroupMappings}, func() error {
		return c.inner.RemoveGroupToGroupMapping(from, to)
	})
}

func (c *Concurrent) AddUserToApplicationComponentAndAccessLevelMapping(user string, component ApplicationComponent, level AccessLevel) error {
	return c.mutate("AddUserToApplicationComponentAndAccessLevelMapping", []LockSet{LockUsers, LockUserComponentAccess}, func() error {
		return c.inner.AddUserToApplicationComponentAndAccessLevelMapping(user, component, level)
	})
}

func (c *Concurrent) RemoveUserToApplicationComponentAndAccessLevelMapping(user string, component ApplicationComponent, level AccessLevel) error {
	return c.mutate("RemoveUserToApplicationComponentAndAccessLevelMapping", []LockSet{LockUserComponentAccess}, func() error {
		return c.inner.RemoveUserToApplicationComponentAndAccessLevelMapping(user, component, level)
	})
}

func (c *Concurrent) AddGroupToApplicationComponentAndAccessLevelMapping(group string, component ApplicationComponent, level AccessLevel) error {
	return c.mutate("AddGroupToApplicationComponentAndAccessLevelMapping", []LockSet{LockGroups, LockGroupComponentAccess}, func() error {
		return c.inner.AddGroupToApplicationComponentAndAccessLevelMapping(group, component, level)
	})
}

func (c *Concurrent) RemoveGroupToApplicationComponentAndAccessLevelMapping(group string, component ApplicationComponent, level AccessLevel) error {
	return c.mutate("RemoveGroupToApplicationComponentAndAccessLevelMapping", []LockSet{LockGroupComponentAccess}, func() error {
		return c.inner.RemoveGroupToApplicationComponentAndAccessLevelMapping(group, component, level)
	})
}

func (c *Concurrent) AddEntityType(et EntityType) error {
	return c.mutate("AddEntityType", []LockSet{LockEntityTypes}, func() error { return c.inner.AddEntityType(et) })
}

func (c *Concurrent) RemoveEntityType(et EntityType) error {
	return c.mutate("RemoveEntityType", []LockSet{LockEntityTypes, LockEntities, LockUserEntities, LockGroupEntities}, func() error {
		return c.inner.RemoveEntityType(et)
	})
}

func (c *Concurrent) AddEntity(et EntityType, e Entity) error {
	return c.mutate("AddEntity", []LockSet{LockEntityTypes, LockEntities}, func() error { return c.inner.AddEntity(et, e) })
}

func (c *Concurrent) RemoveEntity(et EntityType, e Entity) error {
	return c.mutate("RemoveEntity", []LockSet{LockEntities, LockUserEntities, LockGroupEntities}, func() error {
		return c.inner.RemoveEntity(et, e)
	})
}

func (c *Concurrent) AddUserToEntityMapping(user string, et EntityType, e Entity) error {
	return c.mutate("AddUserToEntityMapping", []LockSet{LockUsers, LockEntities, LockUserEntities}, func() error {
		return c.inner.AddUserToEntityMapping(user, et, e)
	})
}

func (c *Concurrent) RemoveUserToEntityMapping(user string, et EntityType, e Entity) error {
	return c.mutate("RemoveUserToEntityMapping", []LockSet{LockUserEntities}, func() error {
		return c.inner.RemoveUserToEntityMapping(user, et, e)
	})
}

func (c *Concurrent) AddGroupToEntityMapping(group string, et EntityType, e Entity) error {
	return c.mutate("AddGroupToEntityMapping", []LockSet{LockGroups, LockEntities, LockGroupEntities}, func() error {
		return c.inner.AddGroupToEntityMapping(group, et, e)
	})
}

func (c *Concurrent) RemoveGroupToEntityMapping(group string, et EntityType, e Entity) error {
	return c.mutate("RemoveGroupToEntityMapping", []LockSet{LockGroupEntities}, func() error {
		return c.inner.RemoveGroupToEntityMapping(group, et, e)
	})
}

// --- existence checks (read-locked passthroughs) ------------------------

func (c *Concurrent) HasUser(user string) (ok bool) {
	c.withRLocks([]LockSet{LockUsers}, func() { ok = c.inner.HasUser(user) })
	return
}

func (c *Concurrent) HasGroup(group string) (ok bool) {
	c.withRLocks([]LockSet{LockGroups}, func() { ok = c.inner.HasGroup(group) })
	return
}

func (c *Concurrent) HasEntityType(et EntityType) (ok bool) {
	c.withRLocks([]LockSet{LockEntityTypes}, func() { ok = c.inner.HasEntityType(et) })
	return
}

func (c *Concurrent) HasEntity(et EntityType, e Entity) (ok bool) {
	c.withRLocks([]LockSet{LockEntities}, func() { ok = c.inner.HasEntity(et, e) })
	return
}

// --- read path: lock-free across readers, RLock per touched region -----

func (c *Concurrent) HasAccessToApplicationComponent(user string, component ApplicationComponent, level AccessLevel) (result bool, err error) {
	c.withRLocks([]LockSet{LockUsers, LockGroups, LockUserToGroupMappings, LockGroupToGroupMappings, LockUserComponentAccess, LockGroupComponentAccess}, func() {
		result, err = c.inner.HasAccessToApplicationComponent(user, component, level)
	})
	return
}

func (c *Concurrent) HasAccessToEntity(user string, et EntityType, e Entity) (result bool, err error) {
	c.withRLocks([]LockSet{LockUsers, LockGroups, LockUserToGroupMappings, LockGroupToGroupMappings, LockEntityTypes, LockUserEntities, LockGroupEntities}, func() {
		result, err = c.inner.HasAccessToEntity(user, et, e)
	})
	return
}

func (c *Concurrent) GetAccessibleEntities(user string, et EntityType) (result map[Entity]struct{}, err error) {
	c.withRLocks([]LockSet{LockUsers, LockGroups, LockUserToGroupMappings, LockGroupToGroupMappings, LockEntityTypes, LockUserEntities, LockGroupEntities}, func() {
		result, err = c.inner.GetAccessibleEntities(user, et)
	})
	return
}

func (c *Concurrent) GetApplicationComponentsAccessibleByUser(user string) (result map[ComponentAccess]struct{}, err error) {
	c.withRLocks([]LockSet{LockUsers, LockGroups, LockUserToGroupMappings, LockGroupToGroupMappings, LockUserComponentAccess, LockGroupComponentAccess}, func() {
		result, err = c.inner.GetApplicationComponentsAccessibleByUser(user)
	})
	return
}

func (c *Concurrent) GetApplicationComponentsAccessibleByGroup(group string) (result map[ComponentAccess]struct{}, err error) {
	c.withRLocks([]LockSet{LockGroups, LockGroupToGroupMappings, LockGroupComponentAccess}, func() {
		result, err = c.inner.GetApplicationComponentsAccessibleByGroup(group)
	})
	return
}
