// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/rbactest"
	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

func TestGrantMatches(t *testing.T) {
	org, user := types.NewID(), types.NewID()
	now := time.Now()
	doc := rbactest.Resource(types.ResourceDocument, org)
	req := rbactest.Request(rbactest.Context(org, user), types.PermissionRead, doc)

	base := rbactest.Grant(types.PermissionRead, types.ResourceDocument)
	assert.True(t, grantMatches(base, &req, now))

	wrongPerm := base
	wrongPerm.Permission = types.PermissionWrite
	assert.False(t, grantMatches(wrongPerm, &req, now))

	wrongType := base
	wrongType.ResourceType = types.ResourceBot
	assert.False(t, grantMatches(wrongType, &req, now))

	otherID := types.NewID()
	scoped := base
	scoped.ResourceID = &otherID
	assert.False(t, grantMatches(scoped, &req, now))

	scoped.ResourceID = &doc.ID
	assert.True(t, grantMatches(scoped, &req, now))

	past := now.Add(-time.Minute)
	expired := base
	expired.ExpiresAt = &past
	assert.False(t, grantMatches(expired, &req, now))

	future := now.Add(time.Minute)
	live := base
	live.ExpiresAt = &future
	assert.True(t, grantMatches(live, &req, now))
}

func TestFirstMatchingGrant_ScanOrder(t *testing.T) {
	org, user := types.NewID(), types.NewID()
	now := time.Now()
	req := rbactest.Request(rbactest.Context(org, user), types.PermissionRead,
		rbactest.Resource(types.ResourceDocument, org))

	first := rbactest.Grant(types.PermissionRead, types.ResourceDocument)
	second := rbactest.Grant(types.PermissionRead, types.ResourceDocument)
	grants := []types.PermissionGrant{
		rbactest.Grant(types.PermissionWrite, types.ResourceDocument),
		first,
		second,
	}

	got := firstMatchingGrant(grants, &req, now)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "scan order is declaration order")

	assert.Nil(t, firstMatchingGrant(nil, &req, now))
}
