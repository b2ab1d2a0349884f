// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// DefaultRoles returns the system roles a new organization is bootstrapped
// with. grantedBy is stamped on every grant; typically the organization
// creator. The returned roles carry fresh ids and are not yet registered.
//
// Owner and admin bypass the grant stages entirely (engine steps 2-3), so
// their roles exist for naming and assignment bookkeeping; the member and
// viewer roles carry the grants that actually decide access.
func DefaultRoles(orgID, grantedBy ulid.ULID) []types.OrganizationRole {
	now := time.Now()

	grant := func(p types.Permission, rt types.ResourceType) types.PermissionGrant {
		return types.PermissionGrant{
			ID:           types.NewID(),
			Permission:   p,
			ResourceType: rt,
			GrantedAt:    now,
			GrantedBy:    grantedBy,
		}
	}

	memberTypes := []types.ResourceType{
		types.ResourceBot, types.ResourceKnowledgeBase, types.ResourceDocument,
		types.ResourceConversation, types.ResourceChannel, types.ResourceWorkflow,
		types.ResourceProject, types.ResourceMeeting, types.ResourceReport,
	}

	var memberGrants []types.PermissionGrant
	for _, rt := range memberTypes {
		memberGrants = append(memberGrants,
			grant(types.PermissionRead, rt),
			grant(types.PermissionWrite, rt),
			grant(types.PermissionExecute, rt),
			grant(types.PermissionShare, rt),
		)
	}

	var viewerGrants []types.PermissionGrant
	for _, rt := range memberTypes {
		viewerGrants = append(viewerGrants, grant(types.PermissionRead, rt))
	}

	role := func(name, description string, level uint32, grants []types.PermissionGrant) types.OrganizationRole {
		return types.OrganizationRole{
			ID:             types.NewID(),
			OrganizationID: orgID,
			Name:           name,
			Description:    description,
			IsSystemRole:   true,
			HierarchyLevel: level,
			Permissions:    grants,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	return []types.OrganizationRole{
		role("owner", "Organization owner", 0, nil),
		role("admin", "Organization administrator", 1, nil),
		role("member", "Standard member", 2, memberGrants),
		role("viewer", "Read-only member", 3, viewerGrants),
	}
}

// SeedOrganization registers the default roles for an organization.
func SeedOrganization(registry *Registry, orgID, grantedBy ulid.ULID) ([]types.OrganizationRole, error) {
	roles := DefaultRoles(orgID, grantedBy)
	for i, r := range roles {
		created, err := registry.CreateRole(r)
		if err != nil {
			return nil, err
		}
		roles[i] = created
	}
	return roles, nil
}
