// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package main

import (
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/GeneralBots/botserver-sub008/internal/config"
	"github.com/GeneralBots/botserver-sub008/internal/logging"
	"github.com/GeneralBots/botserver-sub008/internal/rbac"
	"github.com/GeneralBots/botserver-sub008/internal/rbac/audit"
	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	var (
		userID        string
		permission    string
		resourceType  string
		resourceID    string
		resourceOwner string
		contextPairs  []string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one access decision against a fixture",
		Long: `Load the fixture, build the user's permission context, and run the
decision engine for the given permission and resource.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logging.SetDefault("rbacctl", version, cfg.LogFormat)

			if cfg.Fixture == "" {
				return oops.Code("FIXTURE_REQUIRED").Errorf("a fixture file is required (--fixture)")
			}
			fixture, err := rbac.LoadFixture(cfg.Fixture)
			if err != nil {
				return err
			}

			registry := rbac.NewRegistry()
			applied, err := fixture.Apply(registry)
			if err != nil {
				return err
			}

			uid, err := types.ParseID(userID)
			if err != nil {
				return oops.With("flag", "user").Wrap(err)
			}
			userCtx, err := applied.UserContext(uid)
			if err != nil {
				return err
			}

			perm := types.Permission(permission)
			if !perm.Valid() {
				return oops.Code("INVALID_PERMISSION").
					With("permission", permission).
					Errorf("unknown permission")
			}

			rid, err := types.ParseID(resourceID)
			if err != nil {
				return oops.With("flag", "resource-id").Wrap(err)
			}
			resource := types.Resource{
				Type:           types.ResourceType(resourceType),
				ID:             rid,
				OrganizationID: applied.OrganizationID,
				CreatedAt:      time.Now(),
			}
			if resourceOwner != "" {
				owner, err := types.ParseID(resourceOwner)
				if err != nil {
					return oops.With("flag", "resource-owner").Wrap(err)
				}
				resource.OwnerID = &owner
			}

			actionContext, err := parsePairs(contextPairs)
			if err != nil {
				return err
			}

			sink := audit.NewSink(audit.WithMaxEntries(cfg.Audit.MaxEntries))
			engine := rbac.NewEngine(registry, sink)

			result := engine.CheckAccess(types.AccessCheckRequest{
				UserContext:   userCtx,
				Permission:    perm,
				Resource:      resource,
				ActionContext: actionContext,
			})

			if result.Allowed {
				cmd.Printf("ALLOWED  reason=%s audit_id=%s\n", result.Reason, result.AuditID)
			} else {
				cmd.Printf("DENIED   reason=%s audit_id=%s\n", result.Reason, result.AuditID)
			}
			for _, pe := range result.EvaluatedPolicies {
				cmd.Printf("  policy %-30s %s\n", pe.PolicyName, pe.Result)
			}
			for _, g := range result.MatchingGrants {
				cmd.Printf("  grant  %s on %s\n", g.Permission, g.ResourceType)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (ULID)")
	cmd.Flags().StringVar(&permission, "permission", "", "permission verb")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "resource type")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "resource id (ULID)")
	cmd.Flags().StringVar(&resourceOwner, "resource-owner", "", "resource owner id (ULID)")
	cmd.Flags().StringArrayVar(&contextPairs, "context", nil, "action context key=value (repeatable)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("permission")
	_ = cmd.MarkFlagRequired("resource-type")
	_ = cmd.MarkFlagRequired("resource-id")

	return cmd
}

// parsePairs converts repeated key=value flags into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, oops.Code("INVALID_CONTEXT_PAIR").
				With("pair", pair).
				Errorf("context entries must be key=value")
		}
		result[key] = value
	}
	return result, nil
}
