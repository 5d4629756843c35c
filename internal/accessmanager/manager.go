package accessmanager

import (
	"fmt"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/graphcore"
)

// AccessManager owns the directed graph of users/groups (graphcore.Graph)
// plus the four auxiliary mappings spec.md §4.2 names. It is not safe for
// concurrent use on its own — see Concurrent for the locking discipline
// layered on top (spec.md §4.3).
type AccessManager struct {
	graph *graphcore.Graph

	userComponentAccess  map[string]map[ComponentAccess]struct{}
	groupComponentAccess map[string]map[ComponentAccess]struct{}

	entityTypes map[EntityType]struct{}
	entities    map[EntityType]map[Entity]struct{}

	userEntities  map[string]map[EntityType]map[Entity]struct{}
	groupEntities map[string]map[EntityType]map[Entity]struct{}
}

// New returns an empty AccessManager.
func New() *AccessManager {
	return &AccessManager{
		graph:                graphcore.New(),
		userComponentAccess:  make(map[string]map[ComponentAccess]struct{}),
		groupComponentAccess: make(map[string]map[ComponentAccess]struct{}),
		entityTypes:          make(map[EntityType]struct{}),
		entities:             make(map[EntityType]map[Entity]struct{}),
		userEntities:         make(map[string]map[EntityType]map[Entity]struct{}),
		groupEntities:        make(map[string]map[EntityType]map[Entity]struct{}),
	}
}

// --- existence checks (used by the persister buffer's dependency-free
// prerequisite synthesis, spec.md §4.4) ---------------------------------

func (m *AccessManager) HasUser(user string) bool   { return m.graph.HasLeaf(user) }
func (m *AccessManager) HasGroup(group string) bool { return m.graph.HasNonLeaf(group) }

func (m *AccessManager) HasEntityType(et EntityType) bool {
	_, ok := m.entityTypes[et]
	return ok
}

func (m *AccessManager) HasEntity(et EntityType, e Entity) bool {
	_, ok := m.entities[et][e]
	return ok
}

// --- vertex lifecycle -------------------------------------------------

func (m *AccessManager) AddUser(user string) error {
	if err := m.graph.AddLeaf(user); err != nil {
		return translate(err)
	}
	m.userComponentAccess[user] = make(map[ComponentAccess]struct{})
	return nil
}

func (m *AccessManager) AddGroup(group string) error {
	if err := m.graph.AddNonLeaf(group); err != nil {
		return translate(err)
	}
	m.groupComponentAccess[group] = make(map[ComponentAccess]struct{})
	return nil
}

func (m *AccessManager) RemoveUser(user string) error {
	if err := m.graph.RemoveLeaf(user); err != nil {
		return translate(err)
	}
	delete(m.userComponentAccess, user)
	delete(m.userEntities, user)
	return nil
}

func (m *AccessManager) RemoveGroup(group string) error {
	if err := m.graph.RemoveNonLeaf(group); err != nil {
		return translate(err)
	}
	delete(m.groupComponentAccess, group)
	delete(m.groupEntities, group)
	return nil
}

// --- group membership and inheritance ---------------------------------

func (m *AccessManager) AddUserToGroupMapping(user, group string) error {
	return translate(m.graph.AddLeafToNonLeafEdge(user, group))
}

func (m *AccessManager) RemoveUserToGroupMapping(user, group string) error {
	return translate(m.graph.RemoveLeafToNonLeafEdge(user, group))
}

func (m *AccessManager) AddGroupToGroupMapping(from, to string) error {
	return translate(m.graph.AddNonLeafToNonLeafEdge(from, to))
}

func (m *AccessManager) RemoveGroupToGroupMapping(from, to string) error {
	return translate(m.graph.RemoveNonLeafToNonLeafEdge(from, to))
}

// --- component access mappings -----------------------------------------

func (m *AccessManager) AddUserToApplicationComponentAndAccessLevelMapping(user string, component ApplicationComponent, level AccessLevel) error {
	set, ok := m.userComponentAccess[user]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "user %q not found", user)
	}
	ca := ComponentAccess{Component: component, Level: level}
	if _, exists := set[ca]; exists {
		return apperrors.New(apperrors.KindElementAlreadyExists, "user %q already has %v", user, ca)
	}
	set[ca] = struct{}{}
	return nil
}

func (m *AccessManager) RemoveUserToApplicationComponentAndAccessLevelMapping(user string, component ApplicationComponent, level AccessLevel) error {
	set, ok := m.userComponentAccess[user]
	ca := ComponentAccess{Component: component, Level: level}
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "user %q not found", user)
	}
	if _, exists := set[ca]; !exists {
		return apperrors.New(apperrors.KindElementNotFound, "user %q does not have %v at current time", user, ca)
	}
	delete(set, ca)
	return nil
}

func (m *AccessManager) AddGroupToApplicationComponentAndAccessLevelMapping(group string, component ApplicationComponent, level AccessLevel) error {
	set, ok := m.groupComponentAccess[group]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "group %q not found", group)
	}
	ca := ComponentAccess{Component: component, Level: level}
	if _, exists := set[ca]; exists {
		return apperrors.New(apperrors.KindElementAlreadyExists, "group %q already has %v", group, ca)
	}
	set[ca] = struct{}{}
	return nil
}

func (m *AccessManager) RemoveGroupToApplicationComponentAndAccessLevelMapping(group string, component ApplicationComponent, level AccessLevel) error {
	set, ok := m.groupComponentAccess[group]
	ca := ComponentAccess{Component: component, Level: level}
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "group %q not found", group)
	}
	if _, exists := set[ca]; !exists {
		return apperrors.New(apperrors.KindElementNotFound, "group %q does not have %v at current time", group, ca)
	}
	delete(set, ca)
	return nil
}

// --- entity types and entities ------------------------------------------

func (m *AccessManager) AddEntityType(et EntityType) error {
	if _, exists := m.entityTypes[et]; exists {
		return apperrors.New(apperrors.KindElementAlreadyExists, "entity type %q already exists", et)
	}
	m.entityTypes[et] = struct{}{}
	m.entities[et] = make(map[Entity]struct{})
	return nil
}

// RemoveEntityType removes an entity type and cascades invalidation to every
// Entity of that type and every mapping referencing one of those entities
// (spec.md §3). This method only updates the in-memory view; the persister
// buffer records a single EntityType Remove event and no separate Remove
// events for the cascaded entities and mappings.
func (m *AccessManager) RemoveEntityType(et EntityType) error {
	if _, exists := m.entityTypes[et]; !exists {
		return apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	delete(m.entities, et)
	delete(m.entityTypes, et)
	for _, byType := range m.userEntities {
		delete(byType, et)
	}
	for _, byType := range m.groupEntities {
		delete(byType, et)
	}
	return nil
}

func (m *AccessManager) AddEntity(et EntityType, e Entity) error {
	set, ok := m.entities[et]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	if _, exists := set[e]; exists {
		return apperrors.New(apperrors.KindElementAlreadyExists, "entity %q/%q already exists", et, e)
	}
	set[e] = struct{}{}
	return nil
}

func (m *AccessManager) RemoveEntity(et EntityType, e Entity) error {
	set, ok := m.entities[et]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	if _, exists := set[e]; !exists {
		return apperrors.New(apperrors.KindElementNotFound, "entity %q/%q not found", et, e)
	}
	delete(set, e)
	for _, byType := range m.userEntities {
		delete(byType[et], e)
	}
	for _, byType := range m.groupEntities {
		delete(byType[et], e)
	}
	return nil
}

func (m *AccessManager) AddUserToEntityMapping(user string, et EntityType, e Entity) error {
	if !m.graph.HasLeaf(user) {
		return apperrors.New(apperrors.KindElementNotFound, "user %q not found", user)
	}
	if _, ok := m.entities[et]; !ok {
		return apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	byType, ok := m.userEntities[user]
	if !ok {
		byType = make(map[EntityType]map[Entity]struct{})
		m.userEntities[user] = byType
	}
	set, ok := byType[et]
	if !ok {
		set = make(map[Entity]struct{})
		byType[et] = set
	}
	if _, exists := set[e]; exists {
		return apperrors.New(apperrors.KindElementAlreadyExists, "user %q already mapped to %q/%q", user, et, e)
	}
	set[e] = struct{}{}
	return nil
}

func (m *AccessManager) RemoveUserToEntityMapping(user string, et EntityType, e Entity) error {
	byType, ok := m.userEntities[user]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "user %q has no entity mappings", user)
	}
	set, ok := byType[et]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "user %q has no mappings for entity type %q", user, et)
	}
	if _, exists := set[e]; !exists {
		return apperrors.New(apperrors.KindElementNotFound, "user %q not mapped to %q/%q", user, et, e)
	}
	delete(set, e)
	return nil
}

func (m *AccessManager) AddGroupToEntityMapping(group string, et EntityType, e Entity) error {
	if !m.graph.HasNonLeaf(group) {
		return apperrors.New(apperrors.KindElementNotFound, "group %q not found", group)
	}
	if _, ok := m.entities[et]; !ok {
		return apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	byType, ok := m.groupEntities[group]
	if !ok {
		byType = make(map[EntityType]map[Entity]struct{})
		m.groupEntities[group] = byType
	}
	set, ok := byType[et]
	if !ok {
		set = make(map[Entity]struct{})
		byType[et] = set
	}
	if _, exists := set[e]; exists {
		return apperrors.New(apperrors.KindElementAlreadyExists, "group %q already mapped to %q/%q", group, et, e)
	}
	set[e] = struct{}{}
	return nil
}

func (m *AccessManager) RemoveGroupToEntityMapping(group string, et EntityType, e Entity) error {
	byType, ok := m.groupEntities[group]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "group %q has no entity mappings", group)
	}
	set, ok := byType[et]
	if !ok {
		return apperrors.New(apperrors.KindElementNotFound, "group %q has no mappings for entity type %q", group, et)
	}
	if _, exists := set[e]; !exists {
		return apperrors.New(apperrors.KindElementNotFound, "group %q not mapped to %q/%q", group, et, e)
	}
	delete(set, e)
	return nil
}

// --- query contracts (spec.md §4.2) -------------------------------------

// HasAccessToApplicationComponent reports whether user has (component,
// level) directly, or via a group reachable from user. Returns false,nil
// if user is unknown.
func (m *AccessManager) HasAccessToApplicationComponent(user string, component ApplicationComponent, level AccessLevel) (bool, error) {
	if !m.graph.HasLeaf(user) {
		return false, nil
	}
	ca := ComponentAccess{Component: component, Level: level}
	if _, ok := m.userComponentAccess[user][ca]; ok {
		return true, nil
	}
	found := false
	err := m.graph.TraverseFromLeaf(user, func(group string) bool {
		if _, ok := m.groupComponentAccess[group][ca]; ok {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return false, translate(err)
	}
	return found, nil
}

// HasAccessToEntity reports whether user has access to entity e of type et,
// directly or via a reachable group. Fails with ElementNotFound if et is
// unknown; returns false if user is unknown.
func (m *AccessManager) HasAccessToEntity(user string, et EntityType, e Entity) (bool, error) {
	if _, ok := m.entityTypes[et]; !ok {
		return false, apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	if !m.graph.HasLeaf(user) {
		return false, nil
	}
	if _, ok := m.userEntities[user][et][e]; ok {
		return true, nil
	}
	found := false
	err := m.graph.TraverseFromLeaf(user, func(group string) bool {
		if _, ok := m.groupEntities[group][et][e]; ok {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return false, translate(err)
	}
	return found, nil
}

// GetAccessibleEntities returns the union of entities of type et directly
// mapped to user and to every group reachable from user.
func (m *AccessManager) GetAccessibleEntities(user string, et EntityType) (map[Entity]struct{}, error) {
	if _, ok := m.entityTypes[et]; !ok {
		return nil, apperrors.New(apperrors.KindElementNotFound, "entity type %q not found", et)
	}
	result := make(map[Entity]struct{})
	for e := range m.userEntities[user][et] {
		result[e] = struct{}{}
	}
	if m.graph.HasLeaf(user) {
		err := m.graph.TraverseFromLeaf(user, func(group string) bool {
			for e := range m.groupEntities[group][et] {
				result[e] = struct{}{}
			}
			return true
		})
		if err != nil {
			return nil, translate(err)
		}
	}
	return result, nil
}

// GetApplicationComponentsAccessibleByUser returns the union of the user's
// direct component accesses and those of every group reachable from the
// user (spec.md §4.2, §12 supplement — the algorithm is not spelled out in
// the distilled spec beyond naming the operation).
func (m *AccessManager) GetApplicationComponentsAccessibleByUser(user string) (map[ComponentAccess]struct{}, error) {
	result := make(map[ComponentAccess]struct{})
	for ca := range m.userComponentAccess[user] {
		result[ca] = struct{}{}
	}
	if m.graph.HasLeaf(user) {
		err := m.graph.TraverseFromLeaf(user, func(group string) bool {
			for ca := range m.groupComponentAccess[group] {
				result[ca] = struct{}{}
			}
			return true
		})
		if err != nil {
			return nil, translate(err)
		}
	}
	return result, nil
}

// GetApplicationComponentsAccessibleByGroup returns a group's own direct
// component accesses plus those of every group reachable from it.
func (m *AccessManager) GetApplicationComponentsAccessibleByGroup(group string) (map[ComponentAccess]struct{}, error) {
	if !m.graph.HasNonLeaf(group) {
		return nil, apperrors.New(apperrors.KindElementNotFound, "group %q not found", group)
	}
	result := make(map[ComponentAccess]struct{})
	for ca := range m.groupComponentAccess[group] {
		result[ca] = struct{}{}
	}
	reachable, err := m.graph.ReachableNonLeavesFromGroup(group)
	if err != nil {
		return nil, translate(err)
	}
	for g := range reachable {
		for ca := range m.groupComponentAccess[g] {
			result[ca] = struct{}{}
		}
	}
	return result, nil
}

// translate maps a graphcore error into the apperrors taxonomy spec.md §7
// names at the AccessManager boundary.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *graphcore.ErrNotFound:
		return apperrors.New(apperrors.KindElementNotFound, "element %q not found", e.Element)
	case *graphcore.ErrAlreadyExists:
		return apperrors.New(apperrors.KindElementAlreadyExists, "element %q already exists", e.Element)
	case *graphcore.ErrCircularReference:
		return apperrors.New(apperrors.KindCircularReference, "edge %s -> %s would create a cycle", e.From, e.To)
	default:
		return fmt.Errorf("graph operation failed: %w", err)
	}
}
