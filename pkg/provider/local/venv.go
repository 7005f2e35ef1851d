// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/transformerlab/orchestrator-core/internal/logger"
)

// accelerator names the platform-selected extras tag chosen by probing
// accelerators in priority order (spec §4.1.1 step 2).
type accelerator string

const (
	acceleratorNvidiaCUDA13 accelerator = "cu130"
	acceleratorNvidiaCUDA12 accelerator = "cu128"
	acceleratorAMDROCm      accelerator = "rocm6.4"
	acceleratorAppleCPU     accelerator = "cpu-macos"
	acceleratorLinuxCPU     accelerator = "cpu"
)

// wheelIndexURLs maps an accelerator to its matching PyTorch wheel index,
// passed to `uv pip install` for every non-macOS tag (spec §4.1.1 step 2).
var wheelIndexURLs = map[accelerator]string{
	acceleratorNvidiaCUDA13: "https://download.pytorch.org/whl/cu130",
	acceleratorNvidiaCUDA12: "https://download.pytorch.org/whl/cu128",
	acceleratorAMDROCm:      "https://download.pytorch.org/whl/rocm6.4",
	acceleratorLinuxCPU:     "https://download.pytorch.org/whl/cpu",
}

const (
	venvSyncTimeout   = 600 * time.Second
	setupPhaseTimeout = 300 * time.Second
)

// detectAccelerator probes the host in the priority order spec §4.1.1 step 2
// names: NVIDIA (CUDA 13 on "DGX Spark" platforms, else CUDA 12) -> AMD ROCm
// -> Apple/macOS CPU -> Linux CPU.
func detectAccelerator() accelerator {
	if runtime.GOOS == "darwin" {
		return acceleratorAppleCPU
	}
	if commandExists("nvidia-smi") {
		if isDGXSparkPlatform() {
			return acceleratorNvidiaCUDA13
		}
		return acceleratorNvidiaCUDA12
	}
	if commandExists("rocm-smi") {
		return acceleratorAMDROCm
	}
	return acceleratorLinuxCPU
}

// isDGXSparkPlatform checks the local product-name file NVIDIA ships on DGX
// Spark hosts; absence or read failure means "not a Spark", not an error.
func isDGXSparkPlatform() bool {
	raw, err := os.ReadFile("/sys/class/dmi/id/product_name")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), "dgx spark")
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// syncVenv creates workspaceDir/venv with a fast Python environment manager
// (uv) and installs the base project from sourceCodeDir, selecting extras
// and a wheel index per the detected accelerator (spec §4.1.1 step 2).
// Failure here is fatal, with the subprocess stderr/stdout attached.
func syncVenv(ctx context.Context, workspaceDir, sourceCodeDir string) error {
	venvDir := filepath.Join(workspaceDir, "venv")

	ctx, cancel := context.WithTimeout(ctx, venvSyncTimeout)
	defer cancel()

	accel := detectAccelerator()
	logger.Infof("local provider: syncing venv at %s using accelerator tag %s", venvDir, accel)

	if out, err := runCapture(ctx, workspaceDir, "uv", "venv", venvDir, "--python", "3.11"); err != nil {
		return errors.Wrapf(err, "create venv: %s", out)
	}

	installArgs := []string{"pip", "install", "--python", pythonBin(venvDir), "-e", sourceCodeDir}
	if idxURL, ok := wheelIndexURLs[accel]; ok {
		installArgs = append(installArgs, "--extra-index-url", idxURL, "--index-strategy", "unsafe-best-match")
	}
	if out, err := runCapture(ctx, workspaceDir, "uv", installArgs...); err != nil {
		return errors.Wrapf(err, "install base project: %s", out)
	}
	return nil
}

func pythonBin(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(venvDir, "bin", "python")
}

func runCapture(ctx context.Context, cwd string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// runSetup executes cfg.Setup with the venv's PATH prepended, a 300s
// timeout, and merged env vars (spec §4.1.1 step 3). Non-zero exit is fatal.
func runSetup(ctx context.Context, workspaceDir, setupScript string, envVars map[string]string) error {
	if setupScript == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, setupPhaseTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", setupScript)
	cmd.Dir = workspaceDir
	cmd.Env = mergedEnv(workspaceDir, envVars)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("setup phase failed: %w: %s", err, out)
	}
	return nil
}

func mergedEnv(workspaceDir string, extra map[string]string) []string {
	env := os.Environ()
	venvBin := filepath.Join(workspaceDir, "venv", "bin")
	env = append(env, "PATH="+venvBin+string(os.PathListSeparator)+os.Getenv("PATH"))
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
