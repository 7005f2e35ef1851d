// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPluginExists_TrueOnlyWhenMainPyPresent(t *testing.T) {
	pluginsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(pluginsDir, "trainer"), 0o755))

	require.False(t, pluginExists(pluginsDir, "trainer"))
	require.False(t, pluginExists(pluginsDir, ""))

	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "trainer", "main.py"), []byte("print(1)"), 0o644))
	require.True(t, pluginExists(pluginsDir, "trainer"))
}

func TestResolveSetupCommand_PrefersNamedSetupScript(t *testing.T) {
	pluginsDir := t.TempDir()
	dir := filepath.Join(pluginsDir, "trainer")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(`{"setup-script":"install.sh"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "install.sh"), []byte("#!/bin/bash\r\necho hi\r\n"), 0o644))

	cmd, err := resolveSetupCommand(pluginsDir, "trainer")
	require.NoError(t, err)
	require.Contains(t, cmd, "bash install.sh")

	normalized, err := os.ReadFile(filepath.Join(dir, "install.sh"))
	require.NoError(t, err)
	require.NotContains(t, string(normalized), "\r\n")

	info, err := os.Stat(filepath.Join(dir, "install.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestResolveSetupCommand_FallsBackToPyprojectThenRequirements(t *testing.T) {
	pluginsDir := t.TempDir()

	pyprojDir := filepath.Join(pluginsDir, "with-pyproject")
	require.NoError(t, os.MkdirAll(pyprojDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pyprojDir, "pyproject.toml"), []byte("[project]"), 0o644))
	cmd, err := resolveSetupCommand(pluginsDir, "with-pyproject")
	require.NoError(t, err)
	require.Contains(t, cmd, "uv pip install -e .")

	reqDir := filepath.Join(pluginsDir, "with-requirements")
	require.NoError(t, os.MkdirAll(reqDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(reqDir, "requirements.txt"), []byte("numpy"), 0o644))
	cmd, err = resolveSetupCommand(pluginsDir, "with-requirements")
	require.NoError(t, err)
	require.Contains(t, cmd, "uv pip install -r requirements.txt")
}

func TestResolveSetupCommand_EmptyWhenNothingToRun(t *testing.T) {
	pluginsDir := t.TempDir()
	dir := filepath.Join(pluginsDir, "bare")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	cmd, err := resolveSetupCommand(pluginsDir, "bare")
	require.NoError(t, err)
	require.Empty(t, cmd)
}
