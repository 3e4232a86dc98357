// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the comicfs
// daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - COMICFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables do not override
// config values. The only expansion performed is ${HOME} and similar
// path variables for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the comicfs daemon.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Mount configures the FUSE mount.
	Mount MountConfig `yaml:"mount"`

	// Gateway configures the HTTP ingestion API.
	Gateway GatewayConfig `yaml:"gateway"`

	// Fetch configures download behavior.
	Fetch FetchConfig `yaml:"fetch"`

	// Logging configures diagnostic output.
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for comicfs data. The catalog
	// database and the content store live under it unless overridden.
	Root string `yaml:"root"`

	// Catalog is the path to the catalog database file.
	// Default: ${root}/catalog.db
	Catalog string `yaml:"catalog"`

	// Store is the content store directory.
	// Default: ${root}/content
	Store string `yaml:"store"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// Mountpoint is where the filesystem is mounted. Created if it
	// does not exist.
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`
}

// GatewayConfig configures the HTTP ingestion API.
type GatewayConfig struct {
	// Address is the TCP listen address.
	// Default: 127.0.0.1:8080
	Address string `yaml:"address"`
}

// FetchConfig configures download behavior.
type FetchConfig struct {
	// MaxAttempts bounds retries of transient failures per open.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// AttemptTimeout bounds a single download attempt.
	// Default: 30s
	AttemptTimeout string `yaml:"attempt_timeout"`

	// RetryCooldown is how long a permanently failed file suppresses
	// new download attempts.
	// Default: 5m
	RetryCooldown string `yaml:"retry_cooldown"`

	// Naming selects how registered URLs map to file names:
	// "sequence" (zero-padded position plus URL extension) or "url"
	// (basename of the URL path).
	// Default: sequence
	Naming string `yaml:"naming"`
}

// LoggingConfig configures diagnostic output.
type LoggingConfig struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "comicfs")

	return &Config{
		Paths: PathsConfig{
			Root: defaultRoot,
			// Expressed against ${COMICFS_ROOT} so a config that only
			// overrides paths.root carries the catalog and store with
			// it; expandVariables resolves them after the merge.
			Catalog: "${COMICFS_ROOT}/catalog.db",
			Store:   "${COMICFS_ROOT}/content",
		},
		Mount: MountConfig{
			Mountpoint: filepath.Join(homeDir, "comics"),
		},
		Gateway: GatewayConfig{
			Address: "127.0.0.1:8080",
		},
		Fetch: FetchConfig{
			MaxAttempts:    3,
			AttemptTimeout: "30s",
			RetryCooldown:  "5m",
			Naming:         "sequence",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the COMICFS_CONFIG environment
// variable. There are no fallbacks: if COMICFS_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("COMICFS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("COMICFS_CONFIG environment variable not set; " +
			"set it to the path of your comicfs.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"COMICFS_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["COMICFS_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Catalog = expandVars(c.Paths.Catalog, vars)
	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Mount.Mountpoint = expandVars(c.Mount.Mountpoint, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Catalog == "" {
		errs = append(errs, fmt.Errorf("paths.catalog is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}
	if c.Mount.Mountpoint == "" {
		errs = append(errs, fmt.Errorf("mount.mountpoint is required"))
	}
	if c.Gateway.Address == "" {
		errs = append(errs, fmt.Errorf("gateway.address is required"))
	}

	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_attempts must be at least 1"))
	}
	if _, err := c.AttemptTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("fetch.attempt_timeout: %w", err))
	}
	if _, err := c.RetryCooldown(); err != nil {
		errs = append(errs, fmt.Errorf("fetch.retry_cooldown: %w", err))
	}
	if c.Fetch.Naming != "sequence" && c.Fetch.Naming != "url" {
		errs = append(errs, fmt.Errorf("fetch.naming must be \"sequence\" or \"url\", got %q", c.Fetch.Naming))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AttemptTimeout parses the configured attempt timeout.
func (c *Config) AttemptTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.AttemptTimeout)
}

// RetryCooldown parses the configured retry cool-down.
func (c *Config) RetryCooldown() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.RetryCooldown)
}

// EnsurePaths creates the data directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Store} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
