// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// Fixture is a declarative YAML description of an organization's roles,
// groups, policies, and users, used by the rbacctl CLI and by tests. Roles
// and groups are referenced by name within the file; ids are generated at
// apply time unless given explicitly.
type Fixture struct {
	Organization string          `yaml:"organization"`
	Roles        []FixtureRole   `yaml:"roles"`
	Groups       []FixtureGroup  `yaml:"groups"`
	Policies     []FixturePolicy `yaml:"policies"`
	Users        []FixtureUser   `yaml:"users"`
}

// FixtureRole declares one role.
type FixtureRole struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	System         bool           `yaml:"system"`
	HierarchyLevel uint32         `yaml:"hierarchy_level"`
	InheritsFrom   []string       `yaml:"inherits_from"` // role names
	Grants         []FixtureGrant `yaml:"grants"`
}

// FixtureGroup declares one group.
type FixtureGroup struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	System      bool           `yaml:"system"`
	Roles       []string       `yaml:"roles"` // role names
	Members     []string       `yaml:"members"`
	Grants      []FixtureGrant `yaml:"grants"`
}

// FixtureGrant declares one permission grant.
type FixtureGrant struct {
	Permission   string             `yaml:"permission"`
	ResourceType string             `yaml:"resource_type"`
	ResourceID   string             `yaml:"resource_id"`
	ExpiresAt    *time.Time         `yaml:"expires_at"`
	Conditions   []FixtureCondition `yaml:"conditions"`
}

// FixtureCondition declares one condition.
type FixtureCondition struct {
	Type     string `yaml:"type"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// FixturePolicy declares one resource policy.
type FixturePolicy struct {
	ID              string             `yaml:"id"`
	Name            string             `yaml:"name"`
	Description     string             `yaml:"description"`
	ResourceType    string             `yaml:"resource_type"`
	ResourcePattern string             `yaml:"resource_pattern"`
	Effect          string             `yaml:"effect"`
	Priority        int32              `yaml:"priority"`
	Enabled         *bool              `yaml:"enabled"` // nil means enabled
	Permissions     []string           `yaml:"permissions"`
	Principals      FixturePrincipals  `yaml:"principals"`
	Conditions      []FixtureCondition `yaml:"conditions"`
}

// FixturePrincipals declares a policy's principal selection.
type FixturePrincipals struct {
	Users            []string `yaml:"users"`
	Roles            []string `yaml:"roles"`  // role names
	Groups           []string `yaml:"groups"` // group names
	AllAuthenticated bool     `yaml:"all_authenticated"`
	ResourceOwner    bool     `yaml:"resource_owner"`
}

// FixtureUser declares one user and their assignments.
type FixtureUser struct {
	ID          string   `yaml:"id"`
	Roles       []string `yaml:"roles"`  // role names
	Groups      []string `yaml:"groups"` // group names
	Owner       bool     `yaml:"owner"`
	Admin       bool     `yaml:"admin"`
	MfaVerified bool     `yaml:"mfa_verified"`
	IPAddress   string   `yaml:"ip_address"`
	DeviceType  string   `yaml:"device_type"`
}

// LoadFixture reads and parses a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code("FIXTURE_READ_FAILED").With("path", path).Wrap(err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Code("FIXTURE_PARSE_FAILED").With("path", path).Wrap(err)
	}
	return &f, nil
}

// AppliedFixture is the result of registering a fixture: the resolved
// organization id and name-to-record lookups for building user contexts.
type AppliedFixture struct {
	OrganizationID ulid.ULID
	RolesByName    map[string]types.OrganizationRole
	GroupsByName   map[string]types.OrganizationGroup
	Users          map[ulid.ULID]FixtureUser
}

// Apply registers the fixture's roles, groups, and policies into the
// registry, resolving name references in declaration order. Role inheritance
// may reference any role declared in the file, including later ones, so
// roles are created in two passes.
func (f *Fixture) Apply(registry *Registry) (*AppliedFixture, error) {
	orgID, err := types.ParseID(f.Organization)
	if err != nil {
		return nil, oops.Code("FIXTURE_INVALID").With("field", "organization").Wrap(err)
	}

	applied := &AppliedFixture{
		OrganizationID: orgID,
		RolesByName:    make(map[string]types.OrganizationRole),
		GroupsByName:   make(map[string]types.OrganizationGroup),
		Users:          make(map[ulid.ULID]FixtureUser),
	}

	// First pass: assign ids so inheritance can be resolved by name.
	roleIDs := make(map[string]ulid.ULID, len(f.Roles))
	for _, fr := range f.Roles {
		id := types.NewID()
		if fr.ID != "" {
			if id, err = types.ParseID(fr.ID); err != nil {
				return nil, oops.Code("FIXTURE_INVALID").With("role", fr.Name).Wrap(err)
			}
		}
		roleIDs[fr.Name] = id
	}

	grantedBy := orgID // fixtures have no author; stamp the org id

	for _, fr := range f.Roles {
		grants, err := f.buildGrants(fr.Grants, grantedBy)
		if err != nil {
			return nil, oops.With("role", fr.Name).Wrap(err)
		}
		var inherits []ulid.ULID
		for _, name := range fr.InheritsFrom {
			id, ok := roleIDs[name]
			if !ok {
				return nil, oops.Code("FIXTURE_INVALID").
					With("role", fr.Name).With("inherits_from", name).
					Errorf("inherited role is not declared in fixture")
			}
			inherits = append(inherits, id)
		}
		role, err := registry.CreateRole(types.OrganizationRole{
			ID:             roleIDs[fr.Name],
			OrganizationID: orgID,
			Name:           fr.Name,
			Description:    fr.Description,
			IsSystemRole:   fr.System,
			HierarchyLevel: fr.HierarchyLevel,
			Permissions:    grants,
			InheritsFrom:   inherits,
		})
		if err != nil {
			return nil, err
		}
		applied.RolesByName[role.Name] = role
	}

	for _, fg := range f.Groups {
		grants, err := f.buildGrants(fg.Grants, grantedBy)
		if err != nil {
			return nil, oops.With("group", fg.Name).Wrap(err)
		}
		var roleRefs []ulid.ULID
		for _, name := range fg.Roles {
			role, ok := applied.RolesByName[name]
			if !ok {
				return nil, oops.Code("FIXTURE_INVALID").
					With("group", fg.Name).With("role", name).
					Errorf("group references undeclared role")
			}
			roleRefs = append(roleRefs, role.ID)
		}
		members, err := parseIDList(fg.Members)
		if err != nil {
			return nil, oops.With("group", fg.Name).Wrap(err)
		}
		var id ulid.ULID
		if fg.ID != "" {
			if id, err = types.ParseID(fg.ID); err != nil {
				return nil, oops.Code("FIXTURE_INVALID").With("group", fg.Name).Wrap(err)
			}
		}
		group, err := registry.CreateGroup(types.OrganizationGroup{
			ID:             id,
			OrganizationID: orgID,
			Name:           fg.Name,
			Description:    fg.Description,
			IsSystemGroup:  fg.System,
			Roles:          roleRefs,
			Members:        members,
			Permissions:    grants,
		})
		if err != nil {
			return nil, err
		}
		applied.GroupsByName[group.Name] = group
	}

	for _, fp := range f.Policies {
		policy, err := f.buildPolicy(fp, orgID, applied)
		if err != nil {
			return nil, err
		}
		if _, err := registry.CreatePolicy(policy); err != nil {
			return nil, err
		}
	}

	for _, fu := range f.Users {
		userID, err := types.ParseID(fu.ID)
		if err != nil {
			return nil, oops.Code("FIXTURE_INVALID").With("user", fu.ID).Wrap(err)
		}
		for _, name := range fu.Roles {
			role, ok := applied.RolesByName[name]
			if !ok {
				return nil, oops.Code("FIXTURE_INVALID").
					With("user", fu.ID).With("role", name).
					Errorf("user references undeclared role")
			}
			if err := registry.AddUserToRole(userID, orgID, role.ID); err != nil {
				return nil, err
			}
		}
		applied.Users[userID] = fu
	}

	return applied, nil
}

// UserContext builds the permission context for a fixture user, resolving
// role and group names to ids. Session creation defaults to now.
func (a *AppliedFixture) UserContext(userID ulid.ULID) (types.UserPermissionContext, error) {
	fu, ok := a.Users[userID]
	if !ok {
		return types.UserPermissionContext{}, oops.Code("FIXTURE_USER_NOT_FOUND").
			With("user_id", userID.String()).
			Errorf("user is not declared in fixture")
	}

	ctx := types.UserPermissionContext{
		UserID:              userID,
		OrganizationID:      a.OrganizationID,
		IsOrganizationOwner: fu.Owner,
		IsOrganizationAdmin: fu.Admin,
		MfaVerified:         fu.MfaVerified,
		SessionCreatedAt:    time.Now(),
	}
	if fu.IPAddress != "" {
		ip := fu.IPAddress
		ctx.IPAddress = &ip
	}
	if fu.DeviceType != "" {
		device := fu.DeviceType
		ctx.DeviceType = &device
	}
	for _, name := range fu.Roles {
		ctx.Roles = append(ctx.Roles, a.RolesByName[name].ID)
	}
	for _, name := range fu.Groups {
		group, ok := a.GroupsByName[name]
		if !ok {
			return types.UserPermissionContext{}, oops.Code("FIXTURE_INVALID").
				With("user", fu.ID).With("group", name).
				Errorf("user references undeclared group")
		}
		ctx.Groups = append(ctx.Groups, group.ID)
	}
	return ctx, nil
}

func (f *Fixture) buildGrants(grants []FixtureGrant, grantedBy ulid.ULID) ([]types.PermissionGrant, error) {
	var result []types.PermissionGrant
	for _, fg := range grants {
		perm := types.Permission(fg.Permission)
		if !perm.Valid() {
			return nil, oops.Code("FIXTURE_INVALID").
				With("permission", fg.Permission).
				Errorf("unknown permission")
		}
		grant := types.PermissionGrant{
			ID:           types.NewID(),
			Permission:   perm,
			ResourceType: types.ResourceType(fg.ResourceType),
			Conditions:   buildConditions(fg.Conditions),
			GrantedAt:    time.Now(),
			GrantedBy:    grantedBy,
			ExpiresAt:    fg.ExpiresAt,
		}
		if fg.ResourceID != "" {
			id, err := types.ParseID(fg.ResourceID)
			if err != nil {
				return nil, oops.Code("FIXTURE_INVALID").With("resource_id", fg.ResourceID).Wrap(err)
			}
			grant.ResourceID = &id
		}
		result = append(result, grant)
	}
	return result, nil
}

func (f *Fixture) buildPolicy(fp FixturePolicy, orgID ulid.ULID, applied *AppliedFixture) (types.ResourcePolicy, error) {
	effect := types.PolicyEffect(fp.Effect)
	if effect != types.EffectAllow && effect != types.EffectDeny {
		return types.ResourcePolicy{}, oops.Code("FIXTURE_INVALID").
			With("policy", fp.Name).With("effect", fp.Effect).
			Errorf("policy effect must be allow or deny")
	}

	var perms []types.Permission
	for _, p := range fp.Permissions {
		perm := types.Permission(p)
		if !perm.Valid() {
			return types.ResourcePolicy{}, oops.Code("FIXTURE_INVALID").
				With("policy", fp.Name).With("permission", p).
				Errorf("unknown permission")
		}
		perms = append(perms, perm)
	}

	principals := types.PolicyPrincipals{
		AllAuthenticated: fp.Principals.AllAuthenticated,
		ResourceOwner:    fp.Principals.ResourceOwner,
	}
	users, err := parseIDList(fp.Principals.Users)
	if err != nil {
		return types.ResourcePolicy{}, oops.With("policy", fp.Name).Wrap(err)
	}
	principals.Users = users
	for _, name := range fp.Principals.Roles {
		role, ok := applied.RolesByName[name]
		if !ok {
			return types.ResourcePolicy{}, oops.Code("FIXTURE_INVALID").
				With("policy", fp.Name).With("role", name).
				Errorf("policy references undeclared role")
		}
		principals.Roles = append(principals.Roles, role.ID)
	}
	for _, name := range fp.Principals.Groups {
		group, ok := applied.GroupsByName[name]
		if !ok {
			return types.ResourcePolicy{}, oops.Code("FIXTURE_INVALID").
				With("policy", fp.Name).With("group", name).
				Errorf("policy references undeclared group")
		}
		principals.Groups = append(principals.Groups, group.ID)
	}

	enabled := true
	if fp.Enabled != nil {
		enabled = *fp.Enabled
	}

	var id ulid.ULID
	if fp.ID != "" {
		if id, err = types.ParseID(fp.ID); err != nil {
			return types.ResourcePolicy{}, oops.Code("FIXTURE_INVALID").With("policy", fp.Name).Wrap(err)
		}
	}

	return types.ResourcePolicy{
		ID:              id,
		Name:            fp.Name,
		Description:     fp.Description,
		OrganizationID:  orgID,
		ResourceType:    types.ResourceType(fp.ResourceType),
		ResourcePattern: fp.ResourcePattern,
		Effect:          effect,
		Principals:      principals,
		Permissions:     perms,
		Conditions:      buildConditions(fp.Conditions),
		Priority:        fp.Priority,
		Enabled:         enabled,
	}, nil
}

func buildConditions(conds []FixtureCondition) []types.PermissionCondition {
	var result []types.PermissionCondition
	for _, c := range conds {
		result = append(result, types.PermissionCondition{
			Type:     types.ConditionType(c.Type),
			Operator: types.ConditionOperator(c.Operator),
			Value:    c.Value,
		})
	}
	return result
}

func parseIDList(raw []string) ([]ulid.ULID, error) {
	var result []ulid.ULID
	for _, s := range raw {
		id, err := types.ParseID(s)
		if err != nil {
			return nil, oops.Code("FIXTURE_INVALID").Wrap(err)
		}
		result = append(result, id)
	}
	return result, nil
}
