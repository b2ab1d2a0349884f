// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package main

import (
	"github.com/spf13/cobra"
)

// version is set by the build; "dev" for local builds.
var version = "dev"

// NewRootCmd creates the root command for the rbacctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbacctl",
		Short: "rbacctl - organization access-control tooling",
		Long: `rbacctl evaluates organization access-control decisions against a
declarative YAML fixture of roles, groups, and policies.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path")
	cmd.PersistentFlags().String("log_format", "json", "log format: json or text")
	cmd.PersistentFlags().String("fixture", "", "fixture file path")

	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewValidateCmd())

	return cmd
}
