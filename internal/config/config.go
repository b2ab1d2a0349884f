// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Package config loads engine and CLI configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// AuditConfig configures the audit sink.
type AuditConfig struct {
	// MaxEntries caps the in-memory audit log; oldest entries are evicted
	// in 10% batches once exceeded.
	MaxEntries int `koanf:"max_entries"`
	// ArchiveDSN, when set, enables forwarding entries to a PostgreSQL
	// archive using this connection string.
	ArchiveDSN string `koanf:"archive_dsn"`
}

// Config is the full configuration tree.
type Config struct {
	// LogFormat is "json" or "text".
	LogFormat string      `koanf:"log_format"`
	Fixture   string      `koanf:"fixture"`
	Audit     AuditConfig `koanf:"audit"`
}

// Default returns the configuration used when no file or flags override it.
func Default() Config {
	return Config{
		LogFormat: "json",
		Audit: AuditConfig{
			MaxEntries: 10000,
		},
	}
}

// Load merges, in increasing precedence: defaults, the YAML file at path
// (skipped when path is empty or the file does not exist), and any set flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if cfg.Audit.MaxEntries < 1 {
		return Config{}, oops.Code("CONFIG_INVALID").
			With("audit.max_entries", cfg.Audit.MaxEntries).
			Errorf("audit.max_entries must be at least 1")
	}
	return cfg, nil
}
