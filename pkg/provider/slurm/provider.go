// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package slurm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"sync"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// readLocalFile reads a local file mount's content for upload to the SLURM
// login node (spec §4.1.2 file_mounts).
func readLocalFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Mode discriminates the two ways this provider talks to a SLURM cluster
// (spec §4.1.2).
type Mode string

const (
	ModeREST Mode = "rest"
	ModeSSH  Mode = "ssh"
)

// Provider is the SLURM compute backend.
type Provider struct {
	Mode Mode

	// REST mode
	rest *restClient

	// SSH mode
	ssh  *SSHRunner
	user string

	mu         sync.Mutex
	clusterJob map[string]string // cluster_name -> slurm job id
}

// NewRESTProvider builds a Provider that talks to a SLURM REST gateway.
func NewRESTProvider(baseURL, token string) *Provider {
	return &Provider{Mode: ModeREST, rest: newRestClient(baseURL, token), clusterJob: map[string]string{}}
}

// NewSSHProvider builds a Provider that submits jobs over an SSH session to
// a SLURM login node.
func NewSSHProvider(runner *SSHRunner, sshUser string) *Provider {
	if sshUser == "" {
		if u, err := user.Current(); err == nil {
			sshUser = u.Username
		}
	}
	return &Provider{Mode: ModeSSH, ssh: runner, user: sshUser, clusterJob: map[string]string{}}
}

func (p *Provider) rememberJob(clusterName, jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clusterJob[clusterName] = jobID
}

func (p *Provider) lookupJob(clusterName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.clusterJob[clusterName]
	return id, ok
}

// LaunchCluster synthesizes a sbatch script and submits it, either over SSH
// (script piped to `cat` on the login node, then sbatch) or the REST
// gateway (spec §4.1.2).
func (p *Provider) LaunchCluster(ctx context.Context, clusterName string, cfg v1.ClusterConfig) (*v1.LaunchResult, error) {
	script := buildSbatchScript(clusterName, cfg)

	if len(cfg.FileMounts) > 0 {
		if p.Mode != ModeSSH {
			return nil, apierrors.NewValidation("file_mounts are only supported in ssh mode")
		}
		if err := p.mountFiles(cfg.FileMounts); err != nil {
			return nil, err
		}
	}

	jobID, err := p.submit(ctx, clusterName, script)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "sbatch submission failed for %s", clusterName)
	}
	p.rememberJob(clusterName, jobID)

	return &v1.LaunchResult{ClusterName: clusterName, JobID: jobID, Status: "submitted"}, nil
}

func (p *Provider) submit(ctx context.Context, clusterName, script string) (string, error) {
	switch p.Mode {
	case ModeREST:
		return p.rest.submitJob(ctx, script, clusterName)
	case ModeSSH:
		remotePath := fmt.Sprintf("/tmp/cluster_%s.sh", clusterName)
		if err := p.ssh.WriteRemoteFile(remotePath, []byte(script)); err != nil {
			return "", err
		}
		out, err := p.ssh.Run(fmt.Sprintf("sbatch %q", remotePath))
		if err != nil {
			return "", err
		}
		return parseSubmittedJobID(out)
	default:
		return "", fmt.Errorf("unknown slurm mode %q", p.Mode)
	}
}

// mountFiles interprets file_mounts as {remote: local}: upload local to
// remote over the SSH session, recursively creating remote directories
// (spec §4.1.2 "File mounts (SSH mode only)").
func (p *Provider) mountFiles(fileMounts map[string]string) error {
	for remote, local := range fileMounts {
		content, err := readLocalFile(local)
		if err != nil {
			return err
		}
		if err := p.ssh.WriteRemoteFile(remote, content); err != nil {
			return err
		}
	}
	return nil
}

// SubmitJob re-synthesizes and submits an additional sbatch script against
// an already-provisioned allocation, reusing the same script synthesis as
// LaunchCluster (spec §4.1.2, §4.1 submit_job contract).
func (p *Provider) SubmitJob(ctx context.Context, clusterName string, cfg v1.JobConfig) (*v1.SubmitResult, error) {
	clusterCfg := v1.ClusterConfig{Command: cfg.Command, EnvVars: cfg.EnvVars, NumNodes: cfg.NumNodes}
	script := buildSbatchScript(cfg.JobName, clusterCfg)
	jobID, err := p.submit(ctx, cfg.JobName, script)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "submit_job failed for %s", cfg.JobName)
	}
	return &v1.SubmitResult{JobID: jobID}, nil
}

// StopCluster cancels the SLURM job bound to clusterName via scancel (spec
// §4.1.2).
func (p *Provider) StopCluster(ctx context.Context, clusterName string) (*v1.SimpleResult, error) {
	return p.CancelJob(ctx, clusterName, "")
}

// CancelJob runs `scancel <id>` (spec §4.1.2). jobID overrides the
// cluster-to-job mapping when provided.
func (p *Provider) CancelJob(ctx context.Context, clusterName, jobID string) (*v1.SimpleResult, error) {
	id := jobID
	if id == "" {
		var ok bool
		id, ok = p.lookupJob(clusterName)
		if !ok {
			return &v1.SimpleResult{Status: "ok", Message: "unknown cluster"}, nil
		}
	}
	if err := p.runCancel(id); err != nil {
		return nil, apierrors.NewProviderTransient(err, "scancel failed for job %s", id)
	}
	return &v1.SimpleResult{Status: "ok"}, nil
}

func (p *Provider) runCancel(jobID string) error {
	if p.Mode == ModeSSH {
		_, err := p.ssh.Run(fmt.Sprintf("scancel %q", jobID))
		return err
	}
	cmd := exec.Command("scancel", jobID)
	return cmd.Run()
}

// GetClusterStatus derives UP/DOWN from squeue's current state for the
// remembered job id; an unknown cluster is UNKNOWN, never an error (spec
// §4.1 "must not raise for missing clusters").
func (p *Provider) GetClusterStatus(ctx context.Context, clusterName string) (*v1.ClusterStatus, error) {
	jobID, ok := p.lookupJob(clusterName)
	if !ok {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterUnknown}, nil
	}
	entries, err := p.querySqueue()
	if err != nil {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterUnknown}, nil
	}
	for _, e := range entries {
		if e.JobID == jobID {
			return &v1.ClusterStatus{ClusterName: clusterName, State: jobStateToClusterState(slurmStateToJobState(e.State))}, nil
		}
	}
	return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterDown}, nil
}

func jobStateToClusterState(s v1.JobState) v1.ClusterState {
	switch s {
	case v1.ProviderJobPending:
		return v1.ClusterInit
	case v1.ProviderJobRunning:
		return v1.ClusterUp
	case v1.ProviderJobFailed:
		return v1.ClusterFailed
	case v1.ProviderJobCancelled:
		return v1.ClusterStopped
	default:
		return v1.ClusterDown
	}
}

// ListClusters lists every job this provider has submitted (spec §4.1).
func (p *Provider) ListClusters(ctx context.Context) ([]v1.ClusterStatus, error) {
	p.mu.Lock()
	names := make([]string, 0, len(p.clusterJob))
	for name := range p.clusterJob {
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

// GetClustersDetailed is not implemented for SLURM in this core; the
// detailed multi-cloud/node-pool view is specific to the SkyPilot-style
// provider (spec §4.1.3). Returns an empty slice.
func (p *Provider) GetClustersDetailed(ctx context.Context) ([]v1.ClusterDetail, error) {
	return nil, nil
}

// GetClusterResources parses `sinfo -h -o '%P %G %c %m %D'` (spec §4.1.2).
func (p *Provider) GetClusterResources(ctx context.Context, clusterName string) (*v1.ResourceInfo, error) {
	out, err := p.querySinfoRaw()
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "sinfo failed")
	}
	info := parseSinfoNodes(out)
	return &info, nil
}

func (p *Provider) querySinfoRaw() (string, error) {
	const format = "%P %G %c %m %D"
	if p.Mode == ModeSSH {
		return p.ssh.Run(fmt.Sprintf("sinfo -h -o %q", format))
	}
	cmd := exec.Command("sinfo", "-h", "-o", format)
	out, err := cmd.Output()
	return string(out), err
}

func (p *Provider) querySqueue() ([]squeueEntry, error) {
	format := "%i %j %T %S %e"
	var out string
	var err error
	if p.Mode == ModeSSH {
		out, err = p.ssh.Run(fmt.Sprintf("squeue -u %q -o %q", p.user, format))
	} else {
		cmd := exec.Command("squeue", "-u", p.user, "-o", format)
		var raw []byte
		raw, err = cmd.Output()
		out = string(raw)
	}
	if err != nil {
		return nil, err
	}
	return parseSqueue(out), nil
}

// GetJobLogs is unsupported for SLURM in this core: log retrieval is via
// the shared filesystem's job output files, which the store's artifact
// paths already expose; plugins write there directly, same as the local
// provider.
func (p *Provider) GetJobLogs(ctx context.Context, clusterName, jobID string, tailLines int) (string, error) {
	return "", apierrors.NewValidation("slurm provider: tail the job's shared-filesystem log file instead")
}

func (p *Provider) GetJobLogsFollow(ctx context.Context, clusterName, jobID string) (<-chan string, error) {
	return nil, apierrors.NewValidation("slurm provider: tail the job's shared-filesystem log file instead")
}

// ListJobs lists every job visible to squeue for the configured user (spec
// §4.1.2).
func (p *Provider) ListJobs(ctx context.Context, clusterName string) ([]v1.JobInfo, error) {
	entries, err := p.querySqueue()
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "squeue failed")
	}
	jobs := make([]v1.JobInfo, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, v1.JobInfo{
			JobID:   e.JobID,
			Name:    e.Name,
			State:   slurmStateToJobState(e.State),
			Submit:  e.StartTime,
			EndTime: e.EndTime,
		})
	}
	return jobs, nil
}

// Check is a lightweight liveness probe: it runs sinfo, over SSH in ssh
// mode and as a local command in rest mode, and reports whether it
// succeeded (spec §4.1.5 "failures must never raise past the router").
func (p *Provider) Check(ctx context.Context) bool {
	_, err := p.querySinfoRaw()
	return err == nil
}
