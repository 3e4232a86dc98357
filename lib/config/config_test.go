// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comicfs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
paths:
  root: /srv/comicfs
mount:
  mountpoint: /mnt/comics
gateway:
  address: ":9090"
fetch:
  max_attempts: 5
  naming: url
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Paths.Root != "/srv/comicfs" {
		t.Errorf("root = %q, want /srv/comicfs", cfg.Paths.Root)
	}
	// The default catalog and store locations follow the overridden
	// root, not the built-in default root.
	if cfg.Paths.Catalog != "/srv/comicfs/catalog.db" {
		t.Errorf("catalog = %q, want /srv/comicfs/catalog.db", cfg.Paths.Catalog)
	}
	if cfg.Paths.Store != "/srv/comicfs/content" {
		t.Errorf("store = %q, want /srv/comicfs/content", cfg.Paths.Store)
	}
	if cfg.Mount.Mountpoint != "/mnt/comics" {
		t.Errorf("mountpoint = %q, want /mnt/comics", cfg.Mount.Mountpoint)
	}
	if cfg.Gateway.Address != ":9090" {
		t.Errorf("address = %q, want :9090", cfg.Gateway.Address)
	}
	if cfg.Fetch.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.Naming != "url" {
		t.Errorf("naming = %q, want url", cfg.Fetch.Naming)
	}

	// Untouched fields keep their defaults.
	if cfg.Fetch.AttemptTimeout != "30s" {
		t.Errorf("attempt_timeout = %q, want default 30s", cfg.Fetch.AttemptTimeout)
	}
	if timeout, err := cfg.AttemptTimeout(); err != nil || timeout != 30*time.Second {
		t.Errorf("AttemptTimeout() = %v, %v", timeout, err)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	path := writeConfig(t, `
paths:
  root: /srv/comicfs
  catalog: ${COMICFS_ROOT}/db/catalog.db
  store: ${COMICFS_ROOT}/blobs
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Catalog != "/srv/comicfs/db/catalog.db" {
		t.Errorf("catalog = %q, want /srv/comicfs/db/catalog.db", cfg.Paths.Catalog)
	}
	if cfg.Paths.Store != "/srv/comicfs/blobs" {
		t.Errorf("store = %q, want /srv/comicfs/blobs", cfg.Paths.Store)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad naming", func(c *Config) { c.Fetch.Naming = "random" }, "fetch.naming"},
		{"bad timeout", func(c *Config) { c.Fetch.AttemptTimeout = "soon" }, "attempt_timeout"},
		{"bad cooldown", func(c *Config) { c.Fetch.RetryCooldown = "-" }, "retry_cooldown"},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "max_attempts"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"no mountpoint", func(c *Config) { c.Mount.Mountpoint = "" }, "mountpoint"},
	}

	for _, c := range cases {
		cfg := Default()
		c.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: Validate() = %v, want error mentioning %q", c.name, err, c.want)
		}
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv("COMICFS_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load without COMICFS_CONFIG succeeded, want error")
	}

	path := writeConfig(t, "gateway:\n  address: \":7000\"\n")
	t.Setenv("COMICFS_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Address != ":7000" {
		t.Errorf("address = %q, want :7000", cfg.Gateway.Address)
	}
}
