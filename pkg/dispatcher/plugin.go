// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
)

const defaultSetupScript = "setup.sh"

// pluginDir returns the host-local directory for plugin name (spec §4.3,
// §6.2: plugins are invoked as `python main.py` from their own directory,
// which must therefore resolve to a real local path regardless of the
// org's workspace storage backend).
func pluginDir(pluginsDir, name string) string {
	return filepath.Join(pluginsDir, name)
}

// pluginExists reports whether plugins/<name>/main.py is present (spec
// §4.3 common preflight: "Verify plugins/<plugin_name>/ exists").
func pluginExists(pluginsDir, name string) bool {
	if name == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(pluginDir(pluginsDir, name), "main.py"))
	return err == nil
}

// resolveSetupCommand builds the shell command for the plugin's setup
// phase (spec §4.3 "Plugin setup"): prefer plugins/<name>/<setup-script>
// named by index.json's setup-script key (default setup.sh), normalizing
// CRLF to LF and making it executable; otherwise fall back to installing
// from pyproject.toml or requirements.txt.
func resolveSetupCommand(pluginsDir, name string) (string, error) {
	dir := pluginDir(pluginsDir, name)
	scriptName := readSetupScriptName(dir)

	scriptPath := filepath.Join(dir, scriptName)
	if _, err := os.Stat(scriptPath); err == nil {
		if err := normalizeLineEndings(scriptPath); err != nil {
			return "", apierrors.Wrap(err, "normalize setup script")
		}
		if err := os.Chmod(scriptPath, 0o755); err != nil {
			return "", apierrors.Wrap(err, "chmod setup script")
		}
		return "cd " + dir + " && bash " + scriptName, nil
	}

	if _, err := os.Stat(filepath.Join(dir, "pyproject.toml")); err == nil {
		return "cd " + dir + " && uv pip install -e .", nil
	}
	if _, err := os.Stat(filepath.Join(dir, "requirements.txt")); err == nil {
		return "cd " + dir + " && uv pip install -r requirements.txt", nil
	}
	return "", nil
}

// readSetupScriptName reads plugins/<name>/index.json's "setup-script" key,
// defaulting to setup.sh when absent or unreadable (spec §4.3).
func readSetupScriptName(dir string) string {
	raw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		return defaultSetupScript
	}
	name := extractJSONStringField(raw, "setup-script")
	if name == "" {
		return defaultSetupScript
	}
	return name
}

// extractJSONStringField decodes raw as a JSON object and returns key's
// string value, used only for the plugin manifest's setup-script field.
// Malformed input or a non-string value yields "" rather than an error,
// since plugin manifests are untrusted, loosely-shaped input (the
// tolerant-read posture the resource store also takes, spec §4.2).
func extractJSONStringField(raw []byte, key string) string {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func normalizeLineEndings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	normalized := strings.ReplaceAll(string(data), "\r\n", "\n")
	if normalized == string(data) {
		return nil
	}
	return os.WriteFile(path, []byte(normalized), 0o644)
}
