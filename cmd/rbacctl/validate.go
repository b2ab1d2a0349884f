// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/GeneralBots/botserver-sub008/internal/config"
	"github.com/GeneralBots/botserver-sub008/internal/rbac"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a fixture file",
		Long: `Parse the fixture and apply it to a throwaway registry, surfacing
name collisions, dangling references, and invalid patterns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Fixture == "" {
				return oops.Code("FIXTURE_REQUIRED").Errorf("a fixture file is required (--fixture)")
			}

			fixture, err := rbac.LoadFixture(cfg.Fixture)
			if err != nil {
				return err
			}
			applied, err := fixture.Apply(rbac.NewRegistry())
			if err != nil {
				return err
			}

			cmd.Printf("fixture OK: %d roles, %d groups, %d policies, %d users\n",
				len(applied.RolesByName), len(applied.GroupsByName),
				len(fixture.Policies), len(applied.Users))
			return nil
		},
	}
}
