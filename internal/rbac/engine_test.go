// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/audit"
	"github.com/GeneralBots/botserver-sub008/internal/rbac/rbactest"
	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// createTestEngine builds an engine over a fresh registry and sink.
func createTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *Registry, *audit.Sink) {
	t.Helper()
	registry := NewRegistry()
	sink := audit.NewSink()
	engine := NewEngine(registry, sink, opts...)
	return engine, registry, sink
}

func TestCheckAccess_TenantMismatch(t *testing.T) {
	engine, _, _ := createTestEngine(t)
	orgA, orgB := types.NewID(), types.NewID()
	user := types.NewID()

	userCtx := rbactest.Context(orgA, user)
	// Even the organization owner is denied across tenants: the guard runs
	// before every other rule.
	userCtx.IsOrganizationOwner = true

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
		rbactest.Resource(types.ResourceDocument, orgB)))

	assert.False(t, result.Allowed)
	assert.Equal(t, types.ReasonDeniedOrganizationMismatch, result.Reason)
	assert.NoError(t, result.Validate())
}

func TestCheckAccess_OwnerAlwaysWins(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	// A blanket deny policy that would stop anyone else.
	_, err := registry.CreatePolicy(types.ResourcePolicy{
		Name:           "deny-everything",
		OrganizationID: org,
		ResourceType:   types.ResourceDocument,
		Effect:         types.EffectDeny,
		Principals:     types.PolicyPrincipals{AllAuthenticated: true},
		Permissions:    types.Permissions(),
		Priority:       1000,
		Enabled:        true,
	})
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.IsOrganizationOwner = true

	for _, perm := range types.Permissions() {
		result := engine.CheckAccess(rbactest.Request(userCtx, perm,
			rbactest.Resource(types.ResourceDocument, org)))
		assert.True(t, result.Allowed, "owner denied %s", perm)
		assert.Equal(t, types.ReasonOrganizationOwner, result.Reason)
	}
}

func TestCheckAccess_AdminBypass(t *testing.T) {
	engine, _, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	userCtx := rbactest.Context(org, user)
	userCtx.IsOrganizationAdmin = true

	for _, perm := range types.Permissions() {
		result := engine.CheckAccess(rbactest.Request(userCtx, perm,
			rbactest.Resource(types.ResourceBot, org)))
		assert.True(t, result.Allowed, "admin denied %s", perm)
		assert.Equal(t, types.ReasonOrganizationAdmin, result.Reason)
	}
}

func TestCheckAccess_NonAdminFallsThrough(t *testing.T) {
	engine, _, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user),
		types.PermissionRead, rbactest.Resource(types.ResourceBot, org)))

	assert.False(t, result.Allowed)
	assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
}

func TestCheckAccess_ResourceOwnerImpliedGrants(t *testing.T) {
	implied := []types.Permission{
		types.PermissionRead, types.PermissionWrite, types.PermissionDelete,
		types.PermissionShare, types.PermissionExport,
	}
	notImplied := []types.Permission{
		types.PermissionAdmin, types.PermissionExecute, types.PermissionImport,
		types.PermissionManage, types.PermissionConfigure,
	}

	engine, _, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	resource := rbactest.Resource(types.ResourceDocument, org)
	resource.OwnerID = &user

	for _, perm := range implied {
		t.Run("implied_"+string(perm), func(t *testing.T) {
			result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user), perm, resource))
			assert.True(t, result.Allowed)
			assert.Equal(t, types.ReasonResourceOwner, result.Reason)
		})
	}
	for _, perm := range notImplied {
		t.Run("not_implied_"+string(perm), func(t *testing.T) {
			result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user), perm, resource))
			assert.False(t, result.Allowed)
			assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
		})
	}
}

func TestCheckAccess_RoleGrant(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	viewer, err := registry.CreateRole(rbactest.Role(org, "viewer",
		rbactest.Grant(types.PermissionRead, types.ResourceDocument)))
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Roles = []ulid.ULID{viewer.ID}

	doc := rbactest.Resource(types.ResourceDocument, org)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead, doc))
	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonRoleGrant, result.Reason)
	require.Len(t, result.MatchingGrants, 1)
	assert.Equal(t, types.PermissionRead, result.MatchingGrants[0].Permission)

	result = engine.CheckAccess(rbactest.Request(userCtx, types.PermissionDelete, doc))
	assert.False(t, result.Allowed)
	assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
	assert.Empty(t, result.MatchingGrants, "denied results carry no grants")
}

func TestCheckAccess_DenyPolicyOverridesRoleGrant(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	viewer, err := registry.CreateRole(rbactest.Role(org, "viewer",
		rbactest.Grant(types.PermissionRead, types.ResourceDocument)))
	require.NoError(t, err)

	_, err = registry.CreatePolicy(types.ResourcePolicy{
		Name:           "deny-doc-read",
		OrganizationID: org,
		ResourceType:   types.ResourceDocument,
		Effect:         types.EffectDeny,
		Principals:     types.PolicyPrincipals{AllAuthenticated: true},
		Permissions:    []types.Permission{types.PermissionRead},
		Priority:       100,
		Enabled:        true,
	})
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Roles = append(userCtx.Roles, viewer.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
		rbactest.Resource(types.ResourceDocument, org)))

	assert.False(t, result.Allowed)
	assert.Equal(t, types.ReasonDeniedConditionFailed, result.Reason)
	require.Len(t, result.EvaluatedPolicies, 1)
	assert.Equal(t, types.PolicyDeny, result.EvaluatedPolicies[0].Result)
}

func TestCheckAccess_AllowPolicyShortCircuits(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	_, err := registry.CreatePolicy(types.ResourcePolicy{
		Name:           "allow-conversation-read",
		OrganizationID: org,
		ResourceType:   types.ResourceConversation,
		Effect:         types.EffectAllow,
		Principals:     types.PolicyPrincipals{AllAuthenticated: true},
		Permissions:    []types.Permission{types.PermissionRead},
		Priority:       10,
		Enabled:        true,
	})
	require.NoError(t, err)

	// No grants anywhere: the allow policy alone decides.
	result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user),
		types.PermissionRead, rbactest.Resource(types.ResourceConversation, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonAllowed, result.Reason)
	require.Len(t, result.EvaluatedPolicies, 1)
	assert.Equal(t, types.PolicyAllow, result.EvaluatedPolicies[0].Result)
}

func TestCheckAccess_PolicyConditionFailureSkipsPolicy(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	// Deny policy requiring MFA-off; user has MFA on, so the policy is
	// skipped rather than treated as a denial.
	_, err := registry.CreatePolicy(types.ResourcePolicy{
		Name:           "deny-without-mfa",
		OrganizationID: org,
		ResourceType:   types.ResourceDocument,
		Effect:         types.EffectDeny,
		Principals:     types.PolicyPrincipals{AllAuthenticated: true},
		Permissions:    []types.Permission{types.PermissionRead},
		Conditions: []types.PermissionCondition{{
			Type:     types.ConditionMfaVerified,
			Operator: types.OperatorEquals,
			Value:    "false",
		}},
		Priority: 100,
		Enabled:  true,
	})
	require.NoError(t, err)

	viewer, err := registry.CreateRole(rbactest.Role(org, "viewer",
		rbactest.Grant(types.PermissionRead, types.ResourceDocument)))
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.MfaVerified = true
	userCtx.Roles = append(userCtx.Roles, viewer.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
		rbactest.Resource(types.ResourceDocument, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonRoleGrant, result.Reason)
	require.Len(t, result.EvaluatedPolicies, 1)
	assert.Equal(t, types.PolicyNotApplicable, result.EvaluatedPolicies[0].Result)
	require.Len(t, result.EvaluatedPolicies[0].ConditionsEvaluated, 1)
	assert.False(t, result.EvaluatedPolicies[0].ConditionsEvaluated[0].Passed)
}

func TestCheckAccess_PolicyPriorityOrder(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	addPolicy := func(name string, effect types.PolicyEffect, priority int32) {
		t.Helper()
		_, err := registry.CreatePolicy(types.ResourcePolicy{
			Name:           name,
			OrganizationID: org,
			ResourceType:   types.ResourceDocument,
			Effect:         effect,
			Principals:     types.PolicyPrincipals{AllAuthenticated: true},
			Permissions:    []types.Permission{types.PermissionRead},
			Priority:       priority,
			Enabled:        true,
		})
		require.NoError(t, err)
	}

	addPolicy("low-deny", types.EffectDeny, 10)
	addPolicy("high-allow", types.EffectAllow, 100)

	result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user),
		types.PermissionRead, rbactest.Resource(types.ResourceDocument, org)))

	// The higher-priority allow decides first; the lower deny is never reached.
	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonAllowed, result.Reason)
	require.Len(t, result.EvaluatedPolicies, 1)
	assert.Equal(t, "high-allow", result.EvaluatedPolicies[0].PolicyName)
}

func TestCheckAccess_PolicyPrincipalFiltering(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user, other := types.NewID(), types.NewID(), types.NewID()

	_, err := registry.CreatePolicy(types.ResourcePolicy{
		Name:           "allow-other-user",
		OrganizationID: org,
		ResourceType:   types.ResourceDocument,
		Effect:         types.EffectAllow,
		Principals:     types.PolicyPrincipals{Users: []ulid.ULID{other}},
		Permissions:    []types.Permission{types.PermissionRead},
		Priority:       10,
		Enabled:        true,
	})
	require.NoError(t, err)

	result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user),
		types.PermissionRead, rbactest.Resource(types.ResourceDocument, org)))

	assert.False(t, result.Allowed)
	assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
	require.Len(t, result.EvaluatedPolicies, 1)
	assert.Equal(t, types.PolicyNotApplicable, result.EvaluatedPolicies[0].Result)
}

func TestCheckAccess_ResourcePatternScopesPolicy(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	doc := rbactest.Resource(types.ResourceDocument, org)
	otherDoc := rbactest.Resource(types.ResourceDocument, org)

	_, err := registry.CreatePolicy(types.ResourcePolicy{
		Name:            "deny-one-document",
		OrganizationID:  org,
		ResourceType:    types.ResourceDocument,
		ResourcePattern: doc.Ref(),
		Effect:          types.EffectDeny,
		Principals:      types.PolicyPrincipals{AllAuthenticated: true},
		Permissions:     []types.Permission{types.PermissionRead},
		Priority:        100,
		Enabled:         true,
	})
	require.NoError(t, err)

	result := engine.CheckAccess(rbactest.Request(rbactest.Context(org, user),
		types.PermissionRead, doc))
	assert.Equal(t, types.ReasonDeniedConditionFailed, result.Reason)

	// The sibling document is outside the pattern; no policy applies.
	result = engine.CheckAccess(rbactest.Request(rbactest.Context(org, user),
		types.PermissionRead, otherDoc))
	assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
	assert.Empty(t, result.EvaluatedPolicies)
}

func TestCheckAccess_DirectGrant(t *testing.T) {
	engine, _, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	userCtx := rbactest.Context(org, user)
	userCtx.DirectPermissions = []types.PermissionGrant{
		rbactest.Grant(types.PermissionWrite, types.ResourceKnowledgeBase),
	}

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionWrite,
		rbactest.Resource(types.ResourceKnowledgeBase, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonDirectGrant, result.Reason)
}

func TestCheckAccess_DirectGrantConditionFailureFallsThrough(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	mfaGrant := rbactest.Grant(types.PermissionRead, types.ResourceDocument)
	mfaGrant.Conditions = []types.PermissionCondition{{
		Type:     types.ConditionMfaVerified,
		Operator: types.OperatorEquals,
		Value:    "true",
	}}

	viewer, err := registry.CreateRole(rbactest.Role(org, "viewer",
		rbactest.Grant(types.PermissionRead, types.ResourceDocument)))
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.DirectPermissions = []types.PermissionGrant{mfaGrant}
	userCtx.Roles = append(userCtx.Roles, viewer.ID)

	// MFA is off: the direct grant's condition fails, but the role grant
	// in the next stage still allows.
	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
		rbactest.Resource(types.ResourceDocument, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonRoleGrant, result.Reason)
}

func TestCheckAccess_ExpiredGrantsNeverMatch(t *testing.T) {
	now := time.Now()
	engine, registry, _ := createTestEngine(t, WithClock(func() time.Time { return now }))
	org, user := types.NewID(), types.NewID()

	past := now.Add(-time.Hour)
	expired := rbactest.Grant(types.PermissionRead, types.ResourceDocument)
	expired.ExpiresAt = &past

	role, err := registry.CreateRole(rbactest.Role(org, "stale", expired))
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.DirectPermissions = []types.PermissionGrant{expired}
	userCtx.Roles = append(userCtx.Roles, role.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
		rbactest.Resource(types.ResourceDocument, org)))

	assert.False(t, result.Allowed)
	assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
}

func TestCheckAccess_GrantScopedToOtherResource(t *testing.T) {
	engine, _, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	target := rbactest.Resource(types.ResourceDocument, org)
	other := rbactest.Resource(types.ResourceDocument, org)

	scoped := rbactest.Grant(types.PermissionRead, types.ResourceDocument)
	scoped.ResourceID = &other.ID

	userCtx := rbactest.Context(org, user)
	userCtx.DirectPermissions = []types.PermissionGrant{scoped}

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead, target))
	assert.False(t, result.Allowed)

	result = engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead, other))
	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonDirectGrant, result.Reason)
}

func TestCheckAccess_GroupGrant(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	group, err := registry.CreateGroup(rbactest.Group(org, "support",
		rbactest.Grant(types.PermissionRead, types.ResourceConversation)))
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Groups = append(userCtx.Groups, group.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
		rbactest.Resource(types.ResourceConversation, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonGroupGrant, result.Reason)
}

func TestCheckAccess_GroupRoleGrant(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	editor, err := registry.CreateRole(rbactest.Role(org, "editor",
		rbactest.Grant(types.PermissionWrite, types.ResourceDocument)))
	require.NoError(t, err)

	group := rbactest.Group(org, "writers")
	group.Roles = append(group.Roles, editor.ID)
	created, err := registry.CreateGroup(group)
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Groups = append(userCtx.Groups, created.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionWrite,
		rbactest.Resource(types.ResourceDocument, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonGroupGrant, result.Reason)
}

func TestCheckAccess_InheritedGrant(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	parent, err := registry.CreateRole(rbactest.Role(org, "parent",
		rbactest.Grant(types.PermissionExport, types.ResourceReport)))
	require.NoError(t, err)

	child := rbactest.Role(org, "child")
	child.InheritsFrom = append(child.InheritsFrom, parent.ID)
	createdChild, err := registry.CreateRole(child)
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Roles = append(userCtx.Roles, createdChild.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionExport,
		rbactest.Resource(types.ResourceReport, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonInheritedPermission, result.Reason)
}

func TestCheckAccess_MultiLevelInheritance(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	grandparent, err := registry.CreateRole(rbactest.Role(org, "grandparent",
		rbactest.Grant(types.PermissionManage, types.ResourceWorkflow)))
	require.NoError(t, err)

	parent := rbactest.Role(org, "parent")
	parent.InheritsFrom = append(parent.InheritsFrom, grandparent.ID)
	createdParent, err := registry.CreateRole(parent)
	require.NoError(t, err)

	child := rbactest.Role(org, "child")
	child.InheritsFrom = append(child.InheritsFrom, createdParent.ID)
	createdChild, err := registry.CreateRole(child)
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Roles = append(userCtx.Roles, createdChild.ID)

	result := engine.CheckAccess(rbactest.Request(userCtx, types.PermissionManage,
		rbactest.Resource(types.ResourceWorkflow, org)))

	assert.True(t, result.Allowed)
	assert.Equal(t, types.ReasonInheritedPermission, result.Reason)
}

func TestCheckAccess_InheritanceCycleTerminates(t *testing.T) {
	engine, registry, _ := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	// A inherits from B, B inherits from A. Neither holds the requested
	// grant; the walk must terminate with a denial.
	roleA := rbactest.Role(org, "role-a")
	roleB := rbactest.Role(org, "role-b")
	roleA.InheritsFrom = append(roleA.InheritsFrom, roleB.ID)
	roleB.InheritsFrom = append(roleB.InheritsFrom, roleA.ID)

	createdA, err := registry.CreateRole(roleA)
	require.NoError(t, err)
	_, err = registry.CreateRole(roleB)
	require.NoError(t, err)

	userCtx := rbactest.Context(org, user)
	userCtx.Roles = append(userCtx.Roles, createdA.ID)

	done := make(chan types.AccessCheckResult, 1)
	go func() {
		done <- engine.CheckAccess(rbactest.Request(userCtx, types.PermissionRead,
			rbactest.Resource(types.ResourceDocument, org)))
	}()

	select {
	case result := <-done:
		assert.False(t, result.Allowed)
		assert.Equal(t, types.ReasonDeniedNoPermission, result.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("inheritance cycle did not terminate")
	}
}

func TestCheckAccess_AuditEntryPerDecision(t *testing.T) {
	engine, _, sink := createTestEngine(t)
	org, user := types.NewID(), types.NewID()

	resource := rbactest.Resource(types.ResourceDocument, org)
	userCtx := rbactest.Context(org, user)
	ip := "198.51.100.7"
	userCtx.IPAddress = &ip

	req := rbactest.Request(userCtx, types.PermissionRead, resource)
	req.ActionContext = map[string]string{"user_agent": "rbacctl/1.0"}

	result := engine.CheckAccess(req)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, result.AuditID, entry.ID)
	assert.Equal(t, user, entry.UserID)
	assert.Equal(t, org, entry.OrganizationID)
	assert.Equal(t, types.PermissionRead, entry.Permission)
	assert.Equal(t, types.ResourceDocument, entry.ResourceType)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, resource.ID, *entry.ResourceID)
	assert.Equal(t, types.ReasonDeniedNoPermission, entry.Result)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, ip, *entry.IPAddress)
	require.NotNil(t, entry.UserAgent)
	assert.Equal(t, "rbacctl/1.0", *entry.UserAgent)

	// A second decision appends a second entry with a fresh id.
	second := engine.CheckAccess(req)
	entries = sink.Entries()
	require.Len(t, entries, 2)
	assert.NotEqual(t, result.AuditID, second.AuditID)
}
