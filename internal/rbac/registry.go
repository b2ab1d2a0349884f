// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// assignment keys the per-organization-per-user role mapping.
type assignment struct {
	OrganizationID ulid.ULID
	UserID         ulid.ULID
}

// Registry holds the shared mutable state the engine reads: roles, groups,
// policies, and user-role assignments. Each map is guarded by its own
// reader-writer lock; the four maps are never locked jointly, so a role
// mutation cannot stall a policy evaluation.
//
// Decisions observe whichever snapshot each internal read lock saw, not a
// single consistent point in time across the whole decision. That weak
// consistency is deliberate: a global lock would serialize every
// authorization check in the system.
//
// Records are stored and returned by value. The slices inside a returned
// record share backing arrays with the stored copy; callers must treat
// returned records as read-only and go through Update* to change them.
type Registry struct {
	rolesMu sync.RWMutex
	roles   map[ulid.ULID]types.OrganizationRole

	groupsMu sync.RWMutex
	groups   map[ulid.ULID]types.OrganizationGroup

	policiesMu sync.RWMutex
	policies   map[ulid.ULID]types.ResourcePolicy
	patterns   map[ulid.ULID]glob.Glob // compiled ResourcePattern, keyed by policy id

	assignMu  sync.RWMutex
	userRoles map[assignment][]ulid.ULID
}

// NewRegistry creates an empty registry. Registries are cheap; tests should
// construct a fresh one per case rather than sharing state.
func NewRegistry() *Registry {
	return &Registry{
		roles:     make(map[ulid.ULID]types.OrganizationRole),
		groups:    make(map[ulid.ULID]types.OrganizationGroup),
		policies:  make(map[ulid.ULID]types.ResourcePolicy),
		patterns:  make(map[ulid.ULID]glob.Glob),
		userRoles: make(map[assignment][]ulid.ULID),
	}
}

// --- roles ---

// CreateRole inserts a role. The name must be unique within its organization
// (case-sensitive). A zero ID is replaced with a fresh one; zero timestamps
// are filled in.
func (r *Registry) CreateRole(role types.OrganizationRole) (types.OrganizationRole, error) {
	r.rolesMu.Lock()
	defer r.rolesMu.Unlock()

	if err := r.roleNameAvailableLocked(role); err != nil {
		return types.OrganizationRole{}, err
	}

	if role.ID == (ulid.ULID{}) {
		role.ID = types.NewID()
	}
	now := time.Now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = now
	}

	r.roles[role.ID] = role
	return role, nil
}

// UpdateRole replaces an existing role. The per-organization name uniqueness
// check excludes the role's own id.
func (r *Registry) UpdateRole(role types.OrganizationRole) (types.OrganizationRole, error) {
	r.rolesMu.Lock()
	defer r.rolesMu.Unlock()

	if _, ok := r.roles[role.ID]; !ok {
		return types.OrganizationRole{}, oops.Code("ROLE_NOT_FOUND").
			With("role_id", role.ID.String()).
			Errorf("role not found")
	}
	if err := r.roleNameAvailableLocked(role); err != nil {
		return types.OrganizationRole{}, err
	}

	role.UpdatedAt = time.Now()
	r.roles[role.ID] = role
	return role, nil
}

// DeleteRole removes a role. System roles are protected; deleting an unknown
// id is a no-op.
func (r *Registry) DeleteRole(id ulid.ULID) error {
	r.rolesMu.Lock()
	defer r.rolesMu.Unlock()

	if role, ok := r.roles[id]; ok && role.IsSystemRole {
		return oops.Code("SYSTEM_ROLE_PROTECTED").
			With("role_id", id.String()).
			With("name", role.Name).
			Errorf("cannot delete system role")
	}
	delete(r.roles, id)
	return nil
}

// GetRole returns the role with the given id.
func (r *Registry) GetRole(id ulid.ULID) (types.OrganizationRole, bool) {
	r.rolesMu.RLock()
	defer r.rolesMu.RUnlock()
	role, ok := r.roles[id]
	return role, ok
}

// GetOrganizationRoles returns all roles in an organization, sorted by name.
func (r *Registry) GetOrganizationRoles(orgID ulid.ULID) []types.OrganizationRole {
	r.rolesMu.RLock()
	defer r.rolesMu.RUnlock()

	var result []types.OrganizationRole
	for _, role := range r.roles {
		if role.OrganizationID == orgID {
			result = append(result, role)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (r *Registry) roleNameAvailableLocked(role types.OrganizationRole) error {
	for _, existing := range r.roles {
		if existing.OrganizationID == role.OrganizationID &&
			existing.Name == role.Name &&
			existing.ID != role.ID {
			return oops.Code("ROLE_NAME_TAKEN").
				With("organization_id", role.OrganizationID.String()).
				With("name", role.Name).
				Errorf("role with this name already exists")
		}
	}
	return nil
}

// --- groups ---

// CreateGroup inserts a group. The name must be unique within its
// organization (case-sensitive).
func (r *Registry) CreateGroup(group types.OrganizationGroup) (types.OrganizationGroup, error) {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()

	if err := r.groupNameAvailableLocked(group); err != nil {
		return types.OrganizationGroup{}, err
	}

	if group.ID == (ulid.ULID{}) {
		group.ID = types.NewID()
	}
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	if group.UpdatedAt.IsZero() {
		group.UpdatedAt = now
	}

	r.groups[group.ID] = group
	return group, nil
}

// UpdateGroup replaces an existing group, re-checking name uniqueness
// excluding the group's own id.
func (r *Registry) UpdateGroup(group types.OrganizationGroup) (types.OrganizationGroup, error) {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()

	if _, ok := r.groups[group.ID]; !ok {
		return types.OrganizationGroup{}, oops.Code("GROUP_NOT_FOUND").
			With("group_id", group.ID.String()).
			Errorf("group not found")
	}
	if err := r.groupNameAvailableLocked(group); err != nil {
		return types.OrganizationGroup{}, err
	}

	group.UpdatedAt = time.Now()
	r.groups[group.ID] = group
	return group, nil
}

// DeleteGroup removes a group. System groups are protected.
func (r *Registry) DeleteGroup(id ulid.ULID) error {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()

	if group, ok := r.groups[id]; ok && group.IsSystemGroup {
		return oops.Code("SYSTEM_GROUP_PROTECTED").
			With("group_id", id.String()).
			With("name", group.Name).
			Errorf("cannot delete system group")
	}
	delete(r.groups, id)
	return nil
}

// GetGroup returns the group with the given id.
func (r *Registry) GetGroup(id ulid.ULID) (types.OrganizationGroup, bool) {
	r.groupsMu.RLock()
	defer r.groupsMu.RUnlock()
	group, ok := r.groups[id]
	return group, ok
}

// GetOrganizationGroups returns all groups in an organization, sorted by name.
func (r *Registry) GetOrganizationGroups(orgID ulid.ULID) []types.OrganizationGroup {
	r.groupsMu.RLock()
	defer r.groupsMu.RUnlock()

	var result []types.OrganizationGroup
	for _, group := range r.groups {
		if group.OrganizationID == orgID {
			result = append(result, group)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (r *Registry) groupNameAvailableLocked(group types.OrganizationGroup) error {
	for _, existing := range r.groups {
		if existing.OrganizationID == group.OrganizationID &&
			existing.Name == group.Name &&
			existing.ID != group.ID {
			return oops.Code("GROUP_NAME_TAKEN").
				With("organization_id", group.OrganizationID.String()).
				With("name", group.Name).
				Errorf("group with this name already exists")
		}
	}
	return nil
}

// --- policies ---

// CreatePolicy inserts a policy, compiling its resource pattern (if any)
// up front. An uncompilable pattern is rejected here so a bad policy never
// reaches the decision path.
func (r *Registry) CreatePolicy(policy types.ResourcePolicy) (types.ResourcePolicy, error) {
	compiled, err := compilePattern(policy)
	if err != nil {
		return types.ResourcePolicy{}, err
	}

	r.policiesMu.Lock()
	defer r.policiesMu.Unlock()

	if policy.ID == (ulid.ULID{}) {
		policy.ID = types.NewID()
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}

	r.policies[policy.ID] = policy
	if compiled != nil {
		r.patterns[policy.ID] = compiled
	}
	return policy, nil
}

// UpdatePolicy replaces an existing policy, recompiling its pattern.
func (r *Registry) UpdatePolicy(policy types.ResourcePolicy) (types.ResourcePolicy, error) {
	compiled, err := compilePattern(policy)
	if err != nil {
		return types.ResourcePolicy{}, err
	}

	r.policiesMu.Lock()
	defer r.policiesMu.Unlock()

	if _, ok := r.policies[policy.ID]; !ok {
		return types.ResourcePolicy{}, oops.Code("POLICY_NOT_FOUND").
			With("policy_id", policy.ID.String()).
			Errorf("policy not found")
	}

	policy.UpdatedAt = time.Now()
	r.policies[policy.ID] = policy
	if compiled != nil {
		r.patterns[policy.ID] = compiled
	} else {
		delete(r.patterns, policy.ID)
	}
	return policy, nil
}

// DeletePolicy removes a policy. Deleting an unknown id is a no-op.
func (r *Registry) DeletePolicy(id ulid.ULID) error {
	r.policiesMu.Lock()
	defer r.policiesMu.Unlock()
	delete(r.policies, id)
	delete(r.patterns, id)
	return nil
}

// GetPolicy returns the policy with the given id.
func (r *Registry) GetPolicy(id ulid.ULID) (types.ResourcePolicy, bool) {
	r.policiesMu.RLock()
	defer r.policiesMu.RUnlock()
	policy, ok := r.policies[id]
	return policy, ok
}

// GetOrganizationPolicies returns all policies in an organization in
// evaluation order (priority descending, then creation time, then id).
func (r *Registry) GetOrganizationPolicies(orgID ulid.ULID) []types.ResourcePolicy {
	r.policiesMu.RLock()
	defer r.policiesMu.RUnlock()

	var result []types.ResourcePolicy
	for _, policy := range r.policies {
		if policy.OrganizationID == orgID {
			result = append(result, policy)
		}
	}
	sortPolicies(result)
	return result
}

// applicablePolicies snapshots the policies that could decide this request:
// enabled, same organization, same resource type, permission listed, and
// resource pattern (when present) matching the resource reference. The
// returned slice is sorted in evaluation order and owned by the caller.
func (r *Registry) applicablePolicies(req *types.AccessCheckRequest) []types.ResourcePolicy {
	ref := req.Resource.Ref()

	r.policiesMu.RLock()
	var result []types.ResourcePolicy
	for id, policy := range r.policies {
		if !policy.Enabled ||
			policy.OrganizationID != req.UserContext.OrganizationID ||
			policy.ResourceType != req.Resource.Type ||
			!containsPermission(policy.Permissions, req.Permission) {
			continue
		}
		if pattern, ok := r.patterns[id]; ok && !pattern.Match(ref) {
			continue
		}
		result = append(result, policy)
	}
	r.policiesMu.RUnlock()

	sortPolicies(result)
	return result
}

// compilePattern compiles a policy's resource pattern with ':' as the glob
// separator, matching the "type:id" resource reference format. Returns nil
// when the pattern is empty.
func compilePattern(policy types.ResourcePolicy) (glob.Glob, error) {
	if policy.ResourcePattern == "" {
		return nil, nil
	}
	compiled, err := glob.Compile(policy.ResourcePattern, ':')
	if err != nil {
		return nil, oops.Code("POLICY_PATTERN_INVALID").
			With("name", policy.Name).
			With("pattern", policy.ResourcePattern).
			Wrap(err)
	}
	return compiled, nil
}

// sortPolicies orders policies by priority descending; ties break on
// creation time then id so evaluation order is deterministic.
func sortPolicies(policies []types.ResourcePolicy) {
	sort.SliceStable(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.Compare(b.ID) < 0
	})
}

func containsPermission(perms []types.Permission, p types.Permission) bool {
	for _, perm := range perms {
		if perm == p {
			return true
		}
	}
	return false
}

// --- user-role assignments ---

// AddUserToRole assigns a role to a user within an organization. The role
// must exist; assigning an already-held role is a no-op.
func (r *Registry) AddUserToRole(userID, orgID, roleID ulid.ULID) error {
	r.rolesMu.RLock()
	_, ok := r.roles[roleID]
	r.rolesMu.RUnlock()
	if !ok {
		return oops.Code("ROLE_NOT_FOUND").
			With("role_id", roleID.String()).
			Errorf("role not found")
	}

	key := assignment{OrganizationID: orgID, UserID: userID}

	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	for _, existing := range r.userRoles[key] {
		if existing == roleID {
			return nil
		}
	}
	r.userRoles[key] = append(r.userRoles[key], roleID)
	return nil
}

// RemoveUserFromRole removes a role assignment. Removing a role the user
// does not hold is a no-op.
func (r *Registry) RemoveUserFromRole(userID, orgID, roleID ulid.ULID) error {
	key := assignment{OrganizationID: orgID, UserID: userID}

	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	held := r.userRoles[key]
	for i, existing := range held {
		if existing == roleID {
			r.userRoles[key] = append(held[:i], held[i+1:]...)
			if len(r.userRoles[key]) == 0 {
				delete(r.userRoles, key)
			}
			return nil
		}
	}
	return nil
}

// GetUserRoles resolves a user's assigned role ids into full role records.
// Ids whose role no longer exists are dropped silently (tombstone tolerance).
func (r *Registry) GetUserRoles(userID, orgID ulid.ULID) []types.OrganizationRole {
	key := assignment{OrganizationID: orgID, UserID: userID}

	r.assignMu.RLock()
	ids := make([]ulid.ULID, len(r.userRoles[key]))
	copy(ids, r.userRoles[key])
	r.assignMu.RUnlock()

	r.rolesMu.RLock()
	defer r.rolesMu.RUnlock()
	var result []types.OrganizationRole
	for _, id := range ids {
		if role, ok := r.roles[id]; ok {
			result = append(result, role)
		}
	}
	return result
}
