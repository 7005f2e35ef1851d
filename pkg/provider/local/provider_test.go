// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// TestRunDetachedWritesLogsAndExits exercises the run phase in isolation
// (skipping the venv sync, which shells out to uv) to confirm stdout/stderr
// land on the host filesystem and the PID becomes unreachable after exit.
func TestRunDetachedWritesLogsAndExits(t *testing.T) {
	dir := t.TempDir()

	pid, err := runDetached(dir, "echo hello", nil)
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	require.Eventually(t, func() bool {
		return !isAlive(pid)
	}, 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(stdoutLogPath(dir))
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestGetClusterStatusUnknownForUnseenCluster(t *testing.T) {
	p := New(t.TempDir())
	status, err := p.GetClusterStatus(context.Background(), "never-launched")
	require.NoError(t, err)
	require.Equal(t, v1.ClusterUnknown, status.State)
}

func TestLaunchCluster_RequiresWorkspaceDir(t *testing.T) {
	p := New(t.TempDir())
	_, err := p.LaunchCluster(context.Background(), "job-1", v1.ClusterConfig{Command: "true"})
	require.Error(t, err)
}

func TestGetJobLogs_ConcatenatesStdoutThenStderr(t *testing.T) {
	p := New(t.TempDir())
	dir := t.TempDir()
	p.rememberDir("job-2", dir)

	require.NoError(t, os.WriteFile(stdoutLogPath(dir), []byte("out\n"), 0o644))
	require.NoError(t, os.WriteFile(stderrLogPath(dir), []byte("err\n"), 0o644))

	logs, err := p.GetJobLogs(context.Background(), "job-2", "job-2", 0)
	require.NoError(t, err)
	require.Equal(t, "out\nerr\n", logs)
}

func TestTailLastLines(t *testing.T) {
	require.Equal(t, "b\nc", tailLastLines("a\nb\nc", 2))
	require.Equal(t, "a\nb\nc", tailLastLines("a\nb\nc", 10))
}

func TestCancelJob_TolerantOfMissingPIDFile(t *testing.T) {
	p := New(t.TempDir())
	dir := t.TempDir()
	p.rememberDir("job-3", dir)

	result, err := p.CancelJob(context.Background(), "job-3", "job-3")
	require.NoError(t, err)
	require.Equal(t, "ok", result.Status)
}

func TestPidFilePath(t *testing.T) {
	require.Equal(t, filepath.Join("/tmp/run", "pid"), pidFilePath("/tmp/run"))
}
