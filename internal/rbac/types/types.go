// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Package types defines the data model for the organization access-control
// decision engine: permissions, resources, grants, conditions, roles, groups,
// policies, and the request/result/audit contracts.
//
// All enumerated types here are closed, stable sets. Adding a variant is a
// breaking interface change and must be versioned by the embedding system.
package types

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Permission is the closed set of verbs a principal can exercise on a resource.
type Permission string

// Permission verbs.
const (
	PermissionRead      Permission = "read"
	PermissionWrite     Permission = "write"
	PermissionDelete    Permission = "delete"
	PermissionAdmin     Permission = "admin"
	PermissionExecute   Permission = "execute"
	PermissionShare     Permission = "share"
	PermissionExport    Permission = "export"
	PermissionImport    Permission = "import"
	PermissionManage    Permission = "manage"
	PermissionConfigure Permission = "configure"
)

// Permissions lists every verb in declaration order.
func Permissions() []Permission {
	return []Permission{
		PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin,
		PermissionExecute, PermissionShare, PermissionExport, PermissionImport,
		PermissionManage, PermissionConfigure,
	}
}

// Valid reports whether p is a member of the closed permission set.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin,
		PermissionExecute, PermissionShare, PermissionExport, PermissionImport,
		PermissionManage, PermissionConfigure:
		return true
	}
	return false
}

// ResourceType is the closed set of resource categories an organization owns.
type ResourceType string

// Resource categories.
const (
	ResourceOrganization  ResourceType = "organization"
	ResourceBot           ResourceType = "bot"
	ResourceKnowledgeBase ResourceType = "knowledge_base"
	ResourceForm          ResourceType = "form"
	ResourceSite          ResourceType = "site"
	ResourceDocument      ResourceType = "document"
	ResourceConversation  ResourceType = "conversation"
	ResourceUser          ResourceType = "user"
	ResourceRole          ResourceType = "role"
	ResourceGroup         ResourceType = "group"
	ResourceChannel       ResourceType = "channel"
	ResourceWorkflow      ResourceType = "workflow"
	ResourceProject       ResourceType = "project"
	ResourceMeeting       ResourceType = "meeting"
	ResourceReport        ResourceType = "report"
	ResourceAPIKey        ResourceType = "api_key"
	ResourceWebhook       ResourceType = "webhook"
	ResourceIntegration   ResourceType = "integration"
	ResourceBilling       ResourceType = "billing"
	ResourceAudit         ResourceType = "audit"
)

// MaxAncestorDepth bounds the resource ownership chain. Resources nested
// deeper than this are rejected at construction time by callers.
const MaxAncestorDepth = 8

// Resource identifies a concrete thing access is being decided for.
// A resource always belongs to exactly one organization.
//
// Ancestors is the ownership chain, nearest parent first. It is scoping
// context only: the engine never walks it to derive grants, and it is never
// mutated after creation. A flat id slice is used instead of a recursive
// pointer so the chain stays depth-bounded and heap-friendly.
type Resource struct {
	Type           ResourceType
	ID             ulid.ULID
	OrganizationID ulid.ULID
	OwnerID        *ulid.ULID
	Ancestors      []ulid.ULID
	CreatedAt      time.Time
}

// Ref returns the "type:id" entity reference for this resource, used for
// resource_pattern matching and audit display.
func (r Resource) Ref() string {
	return string(r.Type) + ":" + r.ID.String()
}

// ConditionType selects which request fact a condition inspects.
type ConditionType string

// Condition types.
const (
	ConditionTimeOfDay     ConditionType = "time_of_day"
	ConditionDayOfWeek     ConditionType = "day_of_week"
	ConditionIPAddress     ConditionType = "ip_address"
	ConditionLocation      ConditionType = "location"
	ConditionDeviceType    ConditionType = "device_type"
	ConditionMfaVerified   ConditionType = "mfa_verified"
	ConditionSessionAge    ConditionType = "session_age"
	ConditionResourceOwner ConditionType = "resource_owner"
	ConditionResourceTag   ConditionType = "resource_tag"
	ConditionCustom        ConditionType = "custom"
)

// ConditionOperator selects how a condition value is compared.
type ConditionOperator string

// Condition operators.
const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorStartsWith  ConditionOperator = "starts_with"
	OperatorEndsWith    ConditionOperator = "ends_with"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorIn          ConditionOperator = "in"
	OperatorNotIn       ConditionOperator = "not_in"
	OperatorMatches     ConditionOperator = "matches"
)

// PermissionCondition is a predicate attached to a grant or policy that must
// hold at decision time. Pure data; evaluation lives in the rbac package.
type PermissionCondition struct {
	Type     ConditionType
	Operator ConditionOperator
	Value    string
}

// PermissionGrant associates one permission with a resource scope.
// A nil ResourceID means "any resource of this type". Expired grants
// (ExpiresAt before now) never match.
type PermissionGrant struct {
	ID           ulid.ULID
	Permission   Permission
	ResourceType ResourceType
	ResourceID   *ulid.ULID
	Conditions   []PermissionCondition
	GrantedAt    time.Time
	GrantedBy    ulid.ULID
	ExpiresAt    *time.Time
}

// Expired reports whether the grant's expiry has passed at the given instant.
func (g PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// OrganizationRole is a named bundle of grants scoped to one organization.
// InheritsFrom may form a graph; traversal is cycle-safe via a visited set.
// System roles cannot be deleted.
type OrganizationRole struct {
	ID             ulid.ULID
	OrganizationID ulid.ULID
	Name           string
	Description    string
	IsSystemRole   bool
	HierarchyLevel uint32
	Permissions    []PermissionGrant
	InheritsFrom   []ulid.ULID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrganizationGroup is a membership set carrying its own grants plus assigned
// roles. System groups cannot be deleted.
type OrganizationGroup struct {
	ID             ulid.ULID
	OrganizationID ulid.ULID
	Name           string
	Description    string
	IsSystemGroup  bool
	Roles          []ulid.ULID
	Members        []ulid.ULID
	Permissions    []PermissionGrant
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserPermissionContext is the authenticated caller's snapshot, built per
// request by an external collaborator. Read-only to the engine.
type UserPermissionContext struct {
	UserID              ulid.ULID
	OrganizationID      ulid.ULID
	Roles               []ulid.ULID
	Groups              []ulid.ULID
	DirectPermissions   []PermissionGrant
	IsOrganizationOwner bool
	IsOrganizationAdmin bool
	MfaVerified         bool
	SessionCreatedAt    time.Time
	IPAddress           *string
	DeviceType          *string
}

// PolicyEffect is what a policy declares: allow or deny on match.
type PolicyEffect string

// Policy effects.
const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// PolicyPrincipals selects which principals a policy applies to.
type PolicyPrincipals struct {
	Users            []ulid.ULID
	Roles            []ulid.ULID
	Groups           []ulid.ULID
	AllAuthenticated bool
	ResourceOwner    bool
}

// ResourcePolicy is an organization-defined rule evaluated independently of
// grants. Policies are evaluated in descending priority order; the first
// decisive Allow or Deny short-circuits.
//
// ResourcePattern, when non-empty, is a glob over the resource's "type:id"
// reference (':' separated) that must also match for the policy to apply.
type ResourcePolicy struct {
	ID              ulid.ULID
	Name            string
	Description     string
	OrganizationID  ulid.ULID
	ResourceType    ResourceType
	ResourcePattern string
	Effect          PolicyEffect
	Principals      PolicyPrincipals
	Permissions     []Permission
	Conditions      []PermissionCondition
	Priority        int32
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccessCheckRequest bundles everything the engine needs for one decision.
// ActionContext carries free-form request facts keyed by tag name; the
// "user_agent" key, when present, is copied into the audit entry.
type AccessCheckRequest struct {
	UserContext   UserPermissionContext
	Permission    Permission
	Resource      Resource
	ActionContext map[string]string
}

// AccessReason enumerates every terminal outcome of the precedence chain.
type AccessReason string

// Access reasons. Allowed, DeniedExpiredGrant, and DeniedResourceNotFound are
// part of the closed contract even though the core engine emits a subset.
const (
	ReasonAllowed                    AccessReason = "allowed"
	ReasonOrganizationOwner          AccessReason = "organization_owner"
	ReasonOrganizationAdmin          AccessReason = "organization_admin"
	ReasonRoleGrant                  AccessReason = "role_grant"
	ReasonGroupGrant                 AccessReason = "group_grant"
	ReasonDirectGrant                AccessReason = "direct_grant"
	ReasonResourceOwner              AccessReason = "resource_owner"
	ReasonInheritedPermission        AccessReason = "inherited_permission"
	ReasonDeniedNoPermission         AccessReason = "denied_no_permission"
	ReasonDeniedConditionFailed      AccessReason = "denied_condition_failed"
	ReasonDeniedExpiredGrant         AccessReason = "denied_expired_grant"
	ReasonDeniedResourceNotFound     AccessReason = "denied_resource_not_found"
	ReasonDeniedOrganizationMismatch AccessReason = "denied_organization_mismatch"
)

// Allows reports whether the reason corresponds to a granted decision.
func (r AccessReason) Allows() bool {
	switch r {
	case ReasonAllowed, ReasonOrganizationOwner, ReasonOrganizationAdmin,
		ReasonRoleGrant, ReasonGroupGrant, ReasonDirectGrant,
		ReasonResourceOwner, ReasonInheritedPermission:
		return true
	}
	return false
}

// PolicyResult is the per-policy outcome recorded during evaluation.
type PolicyResult string

// Policy results.
const (
	PolicyAllow         PolicyResult = "allow"
	PolicyDeny          PolicyResult = "deny"
	PolicyNotApplicable PolicyResult = "not_applicable"
)

// ConditionEvaluation records one condition check for observability.
type ConditionEvaluation struct {
	Condition   PermissionCondition
	Passed      bool
	ActualValue *string
}

// PolicyEvaluation records one policy considered during a decision.
type PolicyEvaluation struct {
	PolicyID            ulid.ULID
	PolicyName          string
	Result              PolicyResult
	ConditionsEvaluated []ConditionEvaluation
}

// AccessCheckResult is what CheckAccess returns to the caller. Denial is a
// normal result, never an error.
type AccessCheckResult struct {
	Allowed           bool
	Reason            AccessReason
	MatchingGrants    []PermissionGrant
	EvaluatedPolicies []PolicyEvaluation
	AuditID           ulid.ULID
}

// Validate checks the result invariant: Allowed must agree with Reason.
func (r AccessCheckResult) Validate() error {
	if r.Allowed != r.Reason.Allows() {
		return fmt.Errorf("access result invariant violated: allowed=%v but reason=%s", r.Allowed, r.Reason)
	}
	return nil
}

// AccessAuditEntry is the immutable record written once per decision.
// Entries are appended, later pruned oldest-first by retention, never edited.
type AccessAuditEntry struct {
	ID             ulid.ULID
	Timestamp      time.Time
	UserID         ulid.ULID
	OrganizationID ulid.ULID
	Permission     Permission
	ResourceType   ResourceType
	ResourceID     *ulid.ULID
	Result         AccessReason
	IPAddress      *string
	UserAgent      *string
}
