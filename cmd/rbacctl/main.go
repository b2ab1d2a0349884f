// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Command rbacctl evaluates access-control fixtures from the command line:
// it loads roles, groups, and policies from a YAML fixture and answers
// "may this user exercise this permission on this resource?".
package main

import (
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
