// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Package rbac implements the organization access-control decision engine:
// a deterministic precedence chain over owner/admin shortcuts, resource
// policies, and direct/role/group/inherited grants, with an append-only
// audit trail.
package rbac

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/audit"
	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// ownerImpliedPermissions are granted implicitly to the owner of a resource.
var ownerImpliedPermissions = map[types.Permission]bool{
	types.PermissionRead:   true,
	types.PermissionWrite:  true,
	types.PermissionDelete: true,
	types.PermissionShare:  true,
	types.PermissionExport: true,
}

// adminAllowed reports whether the organization-admin bypass covers the
// permission. Every verb is admin-allowed in the reference policy; the
// function exists so a deployment can narrow the set in one place.
func adminAllowed(p types.Permission) bool {
	return p.Valid()
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source, for tests exercising grant
// expiry and session-age conditions.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// Engine computes access decisions against an injected registry and records
// every decision in the audit sink. It holds no state of its own beyond its
// dependencies and is safe for concurrent use from any number of goroutines.
type Engine struct {
	registry *Registry
	sink     *audit.Sink
	clock    func() time.Time
}

// NewEngine creates an Engine over the given registry and audit sink.
func NewEngine(registry *Registry, sink *audit.Sink, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		sink:     sink,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAccess evaluates the precedence chain for one request. First match
// wins; later steps are never reached once a step decides:
//
//  1. tenant guard (organization mismatch denies everything else)
//  2. organization-owner bypass
//  3. organization-admin bypass
//  4. resource-owner implied grant
//  5. resource policies (a Deny here short-circuits the whole request)
//  6. direct grants
//  7. role grants
//  8. group grants (own grants, then the groups' roles' grants)
//  9. inherited role grants (breadth-first, cycle-safe)
//  10. default deny
//
// Denial is a normal result, not an error. Every terminal branch records
// exactly one audit entry before returning; the entry is appended before the
// caller sees the result.
func (e *Engine) CheckAccess(req types.AccessCheckRequest) types.AccessCheckResult {
	start := time.Now()
	now := e.clock()
	auditID := types.NewID()

	var matchingGrants []types.PermissionGrant
	var evaluatedPolicies []types.PolicyEvaluation

	// Step 1: tenant guard.
	if req.Resource.OrganizationID != req.UserContext.OrganizationID {
		return e.deny(start, auditID, types.ReasonDeniedOrganizationMismatch, &req, evaluatedPolicies)
	}

	// Step 2: owner bypass.
	if req.UserContext.IsOrganizationOwner {
		return e.allow(start, auditID, types.ReasonOrganizationOwner, &req, matchingGrants, evaluatedPolicies)
	}

	// Step 3: admin bypass.
	if req.UserContext.IsOrganizationAdmin && adminAllowed(req.Permission) {
		return e.allow(start, auditID, types.ReasonOrganizationAdmin, &req, matchingGrants, evaluatedPolicies)
	}

	// Step 4: resource-owner implied grant.
	if req.Resource.OwnerID != nil &&
		*req.Resource.OwnerID == req.UserContext.UserID &&
		ownerImpliedPermissions[req.Permission] {
		return e.allow(start, auditID, types.ReasonResourceOwner, &req, matchingGrants, evaluatedPolicies)
	}

	// Step 5: resource policies. A decisive Deny short-circuits the request;
	// a decisive Allow skips the grant stages entirely.
	if effect := e.evaluatePolicies(&req, now, &evaluatedPolicies); effect != nil {
		if *effect == types.EffectDeny {
			return e.deny(start, auditID, types.ReasonDeniedConditionFailed, &req, evaluatedPolicies)
		}
		return e.allow(start, auditID, types.ReasonAllowed, &req, matchingGrants, evaluatedPolicies)
	}

	// Steps 6-9: grant stages. Each stage nominates its first matching grant;
	// if the grant's conditions fail, evaluation falls through to the next
	// stage rather than trying further grants within the stage.
	if grant := firstMatchingGrant(req.UserContext.DirectPermissions, &req, now); grant != nil {
		matchingGrants = append(matchingGrants, *grant)
		if conditionsPass(grant.Conditions, &req, now, nil) {
			return e.allow(start, auditID, types.ReasonDirectGrant, &req, matchingGrants, evaluatedPolicies)
		}
	}

	if grant := e.roleGrant(&req, now); grant != nil {
		matchingGrants = append(matchingGrants, *grant)
		if conditionsPass(grant.Conditions, &req, now, nil) {
			return e.allow(start, auditID, types.ReasonRoleGrant, &req, matchingGrants, evaluatedPolicies)
		}
	}

	if grant := e.groupGrant(&req, now); grant != nil {
		matchingGrants = append(matchingGrants, *grant)
		if conditionsPass(grant.Conditions, &req, now, nil) {
			return e.allow(start, auditID, types.ReasonGroupGrant, &req, matchingGrants, evaluatedPolicies)
		}
	}

	if grant := e.inheritedGrant(&req, now); grant != nil {
		matchingGrants = append(matchingGrants, *grant)
		if conditionsPass(grant.Conditions, &req, now, nil) {
			return e.allow(start, auditID, types.ReasonInheritedPermission, &req, matchingGrants, evaluatedPolicies)
		}
	}

	// Step 10: nothing granted access.
	return e.deny(start, auditID, types.ReasonDeniedNoPermission, &req, evaluatedPolicies)
}

// roleGrant scans the user's assigned roles for the first matching grant.
func (e *Engine) roleGrant(req *types.AccessCheckRequest, now time.Time) *types.PermissionGrant {
	for _, roleID := range req.UserContext.Roles {
		role, ok := e.registry.GetRole(roleID)
		if !ok {
			continue
		}
		if grant := firstMatchingGrant(role.Permissions, req, now); grant != nil {
			return grant
		}
	}
	return nil
}

// groupGrant scans each of the user's groups: the group's own grants first,
// then the grants of every role the group holds.
func (e *Engine) groupGrant(req *types.AccessCheckRequest, now time.Time) *types.PermissionGrant {
	for _, groupID := range req.UserContext.Groups {
		group, ok := e.registry.GetGroup(groupID)
		if !ok {
			continue
		}
		if grant := firstMatchingGrant(group.Permissions, req, now); grant != nil {
			return grant
		}
		for _, roleID := range group.Roles {
			role, ok := e.registry.GetRole(roleID)
			if !ok {
				continue
			}
			if grant := firstMatchingGrant(role.Permissions, req, now); grant != nil {
				return grant
			}
		}
	}
	return nil
}

// inheritedGrant walks the role-inheritance graph upward from the user's
// assigned roles with an explicit work queue and visited set, so cyclic
// graphs terminate and no ancestor is scanned twice.
func (e *Engine) inheritedGrant(req *types.AccessCheckRequest, now time.Time) *types.PermissionGrant {
	visited := make(map[ulid.ULID]bool)
	queue := make([]ulid.ULID, len(req.UserContext.Roles))
	copy(queue, req.UserContext.Roles)

	for len(queue) > 0 {
		roleID := queue[0]
		queue = queue[1:]
		if visited[roleID] {
			continue
		}
		visited[roleID] = true

		role, ok := e.registry.GetRole(roleID)
		if !ok {
			continue
		}
		for _, parentID := range role.InheritsFrom {
			parent, ok := e.registry.GetRole(parentID)
			if !ok {
				continue
			}
			if grant := firstMatchingGrant(parent.Permissions, req, now); grant != nil {
				return grant
			}
			queue = append(queue, parentID)
		}
	}
	return nil
}

// allow records the decision and builds an allowed result.
func (e *Engine) allow(start time.Time, auditID ulid.ULID, reason types.AccessReason, req *types.AccessCheckRequest, grants []types.PermissionGrant, policies []types.PolicyEvaluation) types.AccessCheckResult {
	e.record(auditID, req, reason)
	recordDecisionMetrics(time.Since(start), reason)
	return types.AccessCheckResult{
		Allowed:           true,
		Reason:            reason,
		MatchingGrants:    grants,
		EvaluatedPolicies: policies,
		AuditID:           auditID,
	}
}

// deny records the decision and builds a denied result. Denied results carry
// the policy evaluations for observability but never any matching grants.
func (e *Engine) deny(start time.Time, auditID ulid.ULID, reason types.AccessReason, req *types.AccessCheckRequest, policies []types.PolicyEvaluation) types.AccessCheckResult {
	e.record(auditID, req, reason)
	recordDecisionMetrics(time.Since(start), reason)
	return types.AccessCheckResult{
		Allowed:           false,
		Reason:            reason,
		EvaluatedPolicies: policies,
		AuditID:           auditID,
	}
}

// record appends the audit entry for a terminal branch. Called exactly once
// per decision, before the result is returned.
func (e *Engine) record(auditID ulid.ULID, req *types.AccessCheckRequest, reason types.AccessReason) {
	resourceID := req.Resource.ID
	var userAgent *string
	if ua, ok := req.ActionContext["user_agent"]; ok {
		userAgent = &ua
	}

	e.sink.Record(types.AccessAuditEntry{
		ID:             auditID,
		Timestamp:      e.clock(),
		UserID:         req.UserContext.UserID,
		OrganizationID: req.UserContext.OrganizationID,
		Permission:     req.Permission,
		ResourceType:   req.Resource.Type,
		ResourceID:     &resourceID,
		Result:         reason,
		IPAddress:      req.UserContext.IPAddress,
		UserAgent:      userAgent,
	})
}
