// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package local implements the local subprocess provider (spec §1 C5,
// §4.1.1): a per-job venv synced with the base project, a detached
// subprocess, and PID/stdout/stderr files on the host filesystem.
package local

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// Provider is the local subprocess compute backend. It never writes PID
// files, stdout/stderr or venvs through the object-store abstraction: those
// always live on the host local filesystem so status polling is reliable
// regardless of the workspace backend (spec §4.1.1 invariants, §8
// invariant 6). Launch is serialized by the dispatcher, not by the
// provider (spec §4.1.1 invariants).
type Provider struct {
	// SourceCodeDir is the directory holding the base project's
	// pyproject.toml, passed to launches via _TFL_SOURCE_CODE_DIR and
	// consumed here directly during venv sync.
	SourceCodeDir string

	mu    sync.Mutex
	dirOf map[string]string // clusterName -> workspace_dir, cached after launch
}

// New builds a local Provider rooted at sourceCodeDir.
func New(sourceCodeDir string) *Provider {
	return &Provider{SourceCodeDir: sourceCodeDir, dirOf: map[string]string{}}
}

func (p *Provider) rememberDir(clusterName, dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirOf[clusterName] = dir
}

func (p *Provider) lookupDir(clusterName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dir, ok := p.dirOf[clusterName]
	return dir, ok
}

func workspaceDirOf(cfg v1.ClusterConfig) (string, error) {
	dir := cfg.ProviderConfig["workspace_dir"]
	if dir == "" {
		return "", apierrors.NewValidation("local provider requires provider_config.workspace_dir")
	}
	return dir, nil
}

// LaunchCluster runs the full local launch algorithm: venv sync, optional
// setup phase, then a detached run phase (spec §4.1.1 steps 1-4).
func (p *Provider) LaunchCluster(ctx context.Context, clusterName string, cfg v1.ClusterConfig) (*v1.LaunchResult, error) {
	dir, err := workspaceDirOf(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create workspace dir")
	}
	p.rememberDir(clusterName, dir)

	if err := syncVenv(ctx, dir, p.SourceCodeDir); err != nil {
		return nil, apierrors.NewPluginFailure(err, "environment materialization failed for %s", clusterName)
	}

	if err := runSetup(ctx, dir, cfg.Setup, cfg.EnvVars); err != nil {
		return nil, apierrors.NewPluginFailure(err, "setup phase failed for %s", clusterName)
	}

	pid, err := runDetached(dir, cfg.Command, cfg.EnvVars)
	if err != nil {
		return nil, apierrors.NewPluginFailure(err, "run phase failed to start for %s", clusterName)
	}
	if err := writePIDFile(dir, pid); err != nil {
		return nil, errors.Wrap(err, "write pid file")
	}

	return &v1.LaunchResult{
		ClusterName: clusterName,
		JobID:       clusterName,
		PID:         pid,
		Status:      "submitted",
	}, nil
}

// runDetached starts `bash -c command` in a new session, redirecting stdout
// and stderr to files under workspaceDir (spec §4.1.1 step 4).
func runDetached(workspaceDir, command string, envVars map[string]string) (int, error) {
	stdout, err := os.Create(stdoutLogPath(workspaceDir))
	if err != nil {
		return 0, err
	}
	stderr, err := os.Create(stderrLogPath(workspaceDir))
	if err != nil {
		stdout.Close()
		return 0, err
	}

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = workspaceDir
	cmd.Env = mergedEnv(workspaceDir, envVars)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return 0, err
	}

	// The child is detached (new session); release our handle so the
	// process survives this API process exiting, and let the files close
	// once the child itself closes its fds.
	go func() {
		_ = cmd.Wait()
		stdout.Close()
		stderr.Close()
	}()

	return cmd.Process.Pid, nil
}

// StopCluster sends SIGTERM to the PID on file, tolerating an already-gone
// process (spec §4.1.1 step 6).
func (p *Provider) StopCluster(ctx context.Context, clusterName string) (*v1.SimpleResult, error) {
	dir, ok := p.lookupDir(clusterName)
	if !ok {
		return &v1.SimpleResult{Status: "ok", Message: "unknown cluster"}, nil
	}
	pid, err := readPIDFile(dir)
	if err != nil {
		return &v1.SimpleResult{Status: "ok", Message: "no pid file"}, nil
	}
	if err := terminate(pid); err != nil {
		return nil, err
	}
	return &v1.SimpleResult{Status: "ok"}, nil
}

// CancelJob is equivalent to StopCluster for the local provider: a cluster
// and a job are the same thing here (spec §4.1.1).
func (p *Provider) CancelJob(ctx context.Context, clusterName, jobID string) (*v1.SimpleResult, error) {
	return p.StopCluster(ctx, clusterName)
}

// GetClusterStatus reads the pid file under the cluster's remembered
// workspace dir and reports UP if the process is alive, DOWN otherwise; an
// unknown cluster or missing pid file reports UNKNOWN/DOWN rather than
// raising (spec §4.1.1 step 5, §4.1 "must not raise for missing clusters").
func (p *Provider) GetClusterStatus(ctx context.Context, clusterName string) (*v1.ClusterStatus, error) {
	dir, ok := p.lookupDir(clusterName)
	if !ok {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterUnknown}, nil
	}
	pid, err := readPIDFile(dir)
	if err != nil {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterDown}, nil
	}
	if isAlive(pid) {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterUp}, nil
	}
	return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterDown}, nil
}

// ListClusters returns every cluster this provider instance has launched,
// in whatever order the underlying map yields (spec §4.1 "default empty").
func (p *Provider) ListClusters(ctx context.Context) ([]v1.ClusterStatus, error) {
	p.mu.Lock()
	names := make([]string, 0, len(p.dirOf))
	for name := range p.dirOf {
		names = append(names, name)
	}
	p.mu.Unlock()

	statuses := make([]v1.ClusterStatus, 0, len(names))
	for _, name := range names {
		status, _ := p.GetClusterStatus(ctx, name)
		statuses = append(statuses, *status)
	}
	return statuses, nil
}

// GetClustersDetailed has no meaningful multi-node view for a single local
// subprocess; returns an empty slice.
func (p *Provider) GetClustersDetailed(ctx context.Context) ([]v1.ClusterDetail, error) {
	return nil, nil
}

// GetClusterResources reports a single-node footprint; the local provider
// does not introspect host CPU/memory/GPU inventory.
func (p *Provider) GetClusterResources(ctx context.Context, clusterName string) (*v1.ResourceInfo, error) {
	return &v1.ResourceInfo{NumNodes: 1}, nil
}

// SubmitJob is unsupported: LaunchCluster already runs the work for the
// local provider (spec §4.1 "may be NotImplemented").
func (p *Provider) SubmitJob(ctx context.Context, clusterName string, cfg v1.JobConfig) (*v1.SubmitResult, error) {
	return nil, apierrors.NewValidation("local provider does not support submit_job; use launch_cluster")
}

// GetJobLogs concatenates stdout.log then stderr.log, optionally trimmed to
// the last tailLines lines (spec §4.1.1 step 7).
func (p *Provider) GetJobLogs(ctx context.Context, clusterName, jobID string, tailLines int) (string, error) {
	dir, ok := p.lookupDir(clusterName)
	if !ok {
		return "", apierrors.NewNotFound("unknown local cluster %q", clusterName)
	}
	combined := ""
	for _, path := range []string{stdoutLogPath(dir), stderrLogPath(dir)} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		combined += string(data)
	}
	if tailLines > 0 {
		combined = tailLastLines(combined, tailLines)
	}
	return combined, nil
}

// GetJobLogsFollow tails the cluster's stdout log with polling (spec §6.5
// "polling fallback when inotify-like mechanisms are unavailable") until the
// process goes down or ctx is cancelled.
func (p *Provider) GetJobLogsFollow(ctx context.Context, clusterName, jobID string) (<-chan string, error) {
	dir, ok := p.lookupDir(clusterName)
	if !ok {
		return nil, apierrors.NewNotFound("unknown local cluster %q", clusterName)
	}
	ch := make(chan string)
	go func() {
		defer close(ch)
		path := stdoutLogPath(dir)
		var offset int64
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f, err := os.Open(path)
				if err != nil {
					continue
				}
				if _, err := f.Seek(offset, 0); err != nil {
					f.Close()
					continue
				}
				scanner := bufio.NewScanner(f)
				for scanner.Scan() {
					select {
					case ch <- scanner.Text():
					case <-ctx.Done():
						f.Close()
						return
					}
				}
				pos, _ := f.Seek(0, 1)
				offset = pos
				f.Close()

				status, _ := p.GetClusterStatus(ctx, clusterName)
				if status.State != v1.ClusterUp {
					return
				}
			}
		}
	}()
	return ch, nil
}

// ListJobs reports exactly one entry, the job/cluster itself (spec §4.1.1
// step 8).
func (p *Provider) ListJobs(ctx context.Context, clusterName string) ([]v1.JobInfo, error) {
	status, _ := p.GetClusterStatus(ctx, clusterName)
	state := v1.ProviderJobCompleted
	if status.State == v1.ClusterUp {
		state = v1.ProviderJobRunning
	}
	return []v1.JobInfo{{JobID: clusterName, State: state}}, nil
}

// Check always reports healthy: the local provider has no remote control
// plane to probe.
func (p *Provider) Check(ctx context.Context) bool { return true }

func tailLastLines(text string, n int) string {
	lines := splitLines(text)
	if len(lines) <= n {
		return text
	}
	return joinLines(lines[len(lines)-n:])
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
