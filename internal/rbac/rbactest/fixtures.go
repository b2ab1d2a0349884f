// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Package rbactest provides builders for access-control test scenarios.
package rbactest

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// Context builds a plain member context: not owner, not admin, no MFA,
// session started now.
func Context(orgID, userID ulid.ULID) types.UserPermissionContext {
	return types.UserPermissionContext{
		UserID:           userID,
		OrganizationID:   orgID,
		SessionCreatedAt: time.Now(),
	}
}

// Grant builds an unconditional, unexpiring grant covering every resource of
// the given type.
func Grant(p types.Permission, rt types.ResourceType) types.PermissionGrant {
	return types.PermissionGrant{
		ID:           types.NewID(),
		Permission:   p,
		ResourceType: rt,
		GrantedAt:    time.Now(),
		GrantedBy:    types.NewID(),
	}
}

// Resource builds a resource of the given type in the organization.
func Resource(rt types.ResourceType, orgID ulid.ULID) types.Resource {
	return types.Resource{
		Type:           rt,
		ID:             types.NewID(),
		OrganizationID: orgID,
		CreatedAt:      time.Now(),
	}
}

// Request bundles a context, permission, and resource into a check request.
func Request(userCtx types.UserPermissionContext, p types.Permission, res types.Resource) types.AccessCheckRequest {
	return types.AccessCheckRequest{
		UserContext: userCtx,
		Permission:  p,
		Resource:    res,
	}
}

// Role builds a role in the organization carrying the given grants.
func Role(orgID ulid.ULID, name string, grants ...types.PermissionGrant) types.OrganizationRole {
	return types.OrganizationRole{
		ID:             types.NewID(),
		OrganizationID: orgID,
		Name:           name,
		Permissions:    grants,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

// Group builds a group in the organization carrying the given grants.
func Group(orgID ulid.ULID, name string, grants ...types.PermissionGrant) types.OrganizationGroup {
	return types.OrganizationGroup{
		ID:             types.NewID(),
		OrganizationID: orgID,
		Name:           name,
		Permissions:    grants,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}
