// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFileName    = "pid"
	stdoutFileName = "stdout.log"
	stderrFileName = "stderr.log"
)

func pidFilePath(workspaceDir string) string    { return filepath.Join(workspaceDir, pidFileName) }
func stdoutLogPath(workspaceDir string) string   { return filepath.Join(workspaceDir, stdoutFileName) }
func stderrLogPath(workspaceDir string) string   { return filepath.Join(workspaceDir, stderrFileName) }

func writePIDFile(workspaceDir string, pid int) error {
	return os.WriteFile(pidFilePath(workspaceDir), []byte(strconv.Itoa(pid)), 0o644)
}

func readPIDFile(workspaceDir string) (int, error) {
	raw, err := os.ReadFile(pidFilePath(workspaceDir))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file: %w", err)
	}
	return pid, nil
}

// isAlive reports whether pid names a live process, the Go analogue of
// `kill(pid, 0)` (spec §4.1.1 step 5).
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// terminate sends SIGTERM to pid, tolerating an already-gone process
// (spec §4.1.1 step 6).
func terminate(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := process.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
		if !strings.Contains(err.Error(), "process already finished") {
			return err
		}
	}
	return nil
}
