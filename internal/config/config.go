// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package config loads workspace and dispatcher tuning from environment
// variables and an optional YAML file, the way common/pkg/config does in
// the teacher repo.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the process-wide settings that are not scoped to a single
// organization context (see pkg/storage.OrgContext for the per-request part).
type Config struct {
	// StorageURI drives the workspace root: a local path, or an
	// s3://, gs://, abfs:// URI (spec §6.1).
	StorageURI string
	// LocalProviderRunsRoot is always a host-local directory, never an
	// object-store path (spec §6.1, invariant 6).
	LocalProviderRunsRoot string
	// ProviderConfigFile is the optional YAML fallback consulted by the
	// provider router (spec §4.1.5 step 3).
	ProviderConfigFile string
	// DispatcherPollInterval is how often start_next_job is invoked by a
	// standalone dispatcher loop (cmd/dispatcher).
	DispatcherPollInterval time.Duration
	// CacheRebuildInterval is the ~1Hz drain loop cadence from spec §4.2.
	CacheRebuildInterval time.Duration
	// CacheRebuildBackoff is the back-off applied after a rebuild error.
	CacheRebuildBackoff time.Duration
	// PluginsDir is the host-local directory holding plugins/<name>/ trees.
	// Plugin execution always `cd`s into a local path (spec §4.3, §6.2), so
	// this is local-filesystem even when StorageURI points at an object
	// store; it defaults to a mirror of the local workspace layout.
	PluginsDir string
	// SourceCodeDir holds the base project's pyproject.toml, passed to
	// plugin subprocesses as _TFL_SOURCE_CODE_DIR (spec §4.3, §4.1.1 step 2).
	SourceCodeDir string
}

const (
	envStorageURI  = "TFL_STORAGE_URI"
	envWorkspaceDir = "TFL_WORKSPACE_DIR"
	envLocalRuns   = "TFL_LOCAL_PROVIDER_RUNS_DIR"
	envProviderCfg = "TFL_PROVIDER_CONFIG_FILE"
	envPluginsDir  = "TFL_PLUGINS_DIR"
	envSourceDir   = "TFL_SOURCE_CODE_DIR"
)

// Load builds a Config from environment variables, falling back to an
// optional YAML file pointed to by TFL_CONFIG_FILE for the remaining knobs.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TFL")
	v.AutomaticEnv()
	v.SetDefault("dispatcher_poll_interval", "2s")
	v.SetDefault("cache_rebuild_interval", "1s")
	v.SetDefault("cache_rebuild_backoff", "5s")

	if f := os.Getenv("TFL_CONFIG_FILE"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		StorageURI:             resolveStorageURI(),
		LocalProviderRunsRoot:  resolveLocalRunsRoot(),
		ProviderConfigFile:     os.Getenv(envProviderCfg),
		DispatcherPollInterval: v.GetDuration("dispatcher_poll_interval"),
		CacheRebuildInterval:   v.GetDuration("cache_rebuild_interval"),
		CacheRebuildBackoff:    v.GetDuration("cache_rebuild_backoff"),
		PluginsDir:             resolvePluginsDir(),
		SourceCodeDir:          os.Getenv(envSourceDir),
	}
	return cfg, nil
}

func resolvePluginsDir() string {
	if v := os.Getenv(envPluginsDir); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".transformerlab", "workspace", "plugins")
}

func resolveStorageURI() string {
	if v := os.Getenv(envStorageURI); v != "" {
		return v
	}
	if v := os.Getenv(envWorkspaceDir); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".transformerlab", "workspace")
}

func resolveLocalRunsRoot() string {
	if v := os.Getenv(envLocalRuns); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".transformerlab", "local_provider_runs")
}

// IsObjectStoreURI reports whether uri names a cloud object-store location
// (s3://, gs://, abfs://) rather than a local path.
func IsObjectStoreURI(uri string) bool {
	for _, prefix := range []string{"s3://", "gs://", "abfs://"} {
		if strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	return false
}
