// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"time"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// grantMatches decides whether a single grant satisfies the request:
// same permission, same resource type, resource-id scope (nil means any
// resource of the type), and not expired. Grant conditions are checked
// separately by the caller.
func grantMatches(grant types.PermissionGrant, req *types.AccessCheckRequest, now time.Time) bool {
	if grant.Permission != req.Permission {
		return false
	}
	if grant.ResourceType != req.Resource.Type {
		return false
	}
	if grant.ResourceID != nil && *grant.ResourceID != req.Resource.ID {
		return false
	}
	if grant.Expired(now) {
		return false
	}
	return true
}

// firstMatchingGrant returns the first grant in grants that matches the
// request, or nil. Scan order is declaration order.
func firstMatchingGrant(grants []types.PermissionGrant, req *types.AccessCheckRequest, now time.Time) *types.PermissionGrant {
	for i := range grants {
		if grantMatches(grants[i], req, now) {
			return &grants[i]
		}
	}
	return nil
}
