// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package runpod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// ErrUnsupported is returned by the operations Runpod's API has no
// equivalent for (spec §4.1.4: "Log retrieval/submission/cancel are
// unsupported and signal NotImplementedError per the contract").
var ErrUnsupported = errors.New("runpod: operation not supported by the pod API; use the dashboard")

// Provider wraps the Runpod pod-lifecycle REST API (spec §4.1.4).
type Provider struct {
	rest             *restClient
	defaultImage     string
	defaultRegion    string
	defaultNetworkID string

	mu              sync.Mutex
	clusterToPodID  map[string]string
}

// New builds a Provider authenticated with apiKey against baseURL (empty
// uses the default Runpod REST endpoint).
func New(baseURL, apiKey string) *Provider {
	return &Provider{rest: newRestClient(baseURL, apiKey), clusterToPodID: map[string]string{}}
}

func (p *Provider) rememberPod(clusterName, podID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clusterToPodID[clusterName] = podID
}

func (p *Provider) forgetPod(clusterName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clusterToPodID, clusterName)
}

func (p *Provider) cachedPodID(clusterName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.clusterToPodID[clusterName]
	return id, ok
}

// findPod resolves clusterName to its pod, using the cached id first and
// otherwise scanning /pods by name (spec §4.1.4 "cluster_name → pod_id is
// cached locally after a list").
func (p *Provider) findPod(ctx context.Context, clusterName string) (*pod, error) {
	if podID, ok := p.cachedPodID(clusterName); ok {
		found, err := p.rest.getPod(ctx, podID)
		if err != nil {
			p.forgetPod(clusterName)
		} else {
			return found, nil
		}
	}

	pods, err := p.rest.listPods(ctx)
	if err != nil {
		return nil, err
	}
	for _, candidate := range pods {
		if candidate.Name == clusterName {
			p.rememberPod(clusterName, candidate.ID)
			return &candidate, nil
		}
	}
	return nil, nil
}

// LaunchCluster creates a single-node pod via POST /pods (spec §4.1.4).
func (p *Provider) LaunchCluster(ctx context.Context, clusterName string, cfg v1.ClusterConfig) (*v1.LaunchResult, error) {
	payload := map[string]interface{}{"name": clusterName}

	if cfg.Accelerators != "" {
		gpuToken, gpuCount := parseAccelerators(cfg.Accelerators)
		gpuTypeID := resolveGPUType(gpuToken, p.rest.listGPUTypes(ctx))
		payload["computeType"] = "GPU"
		payload["gpuTypeIds"] = []string{gpuTypeID}
		payload["gpuCount"] = gpuCount
	} else {
		payload["computeType"] = "CPU"
		vcpu := cfg.CPUs
		if vcpu <= 0 {
			vcpu = 2
		}
		payload["vcpuCount"] = vcpu
		if cfg.MemoryGB > 0 {
			payload["memoryInGb"] = cfg.MemoryGB
		}
	}

	image := p.defaultImage
	if image == "" {
		if cfg.Accelerators != "" {
			image = "runpod/pytorch:2.1.0-py3.10-cuda11.8.0-devel-ubuntu22.04"
		} else {
			image = "ubuntu:22.04"
		}
	}
	if tmpl, ok := cfg.ProviderConfig["template_id"]; ok && tmpl != "" {
		image = tmpl
	}
	payload["imageName"] = image

	if cfg.DiskSizeGB > 0 {
		payload["volumeInGb"] = cfg.DiskSizeGB
	}
	if disk, ok := cfg.ProviderConfig["container_disk_gb"]; ok && disk != "" {
		payload["containerDiskInGb"] = disk
	}
	if len(cfg.EnvVars) > 0 {
		payload["env"] = cfg.EnvVars
	}
	if vol, ok := cfg.ProviderConfig["network_volume_id"]; ok && vol != "" {
		payload["networkVolumeId"] = vol
	} else if p.defaultNetworkID != "" {
		payload["networkVolumeId"] = p.defaultNetworkID
	}
	region := cfg.Region
	if region == "" {
		region = p.defaultRegion
	}
	if region != "" {
		payload["region"] = region
	}

	payload["dockerStartCmd"] = dockerStartCmd(cfg.Setup, cfg.Command)

	created, err := p.rest.createPod(ctx, payload)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "runpod create pod failed for %s", clusterName)
	}
	p.rememberPod(clusterName, created.ID)

	return &v1.LaunchResult{ClusterName: clusterName, RequestID: created.ID, Status: "submitted"}, nil
}

// dockerStartCmd always wraps in "sh -c" so compound setup+command strings
// execute correctly (spec §4.1.4).
func dockerStartCmd(setup, command string) []string {
	var parts []string
	if setup != "" {
		parts = append(parts, setup)
	}
	if command != "" {
		parts = append(parts, command)
	}
	if len(parts) == 0 {
		return nil
	}
	return []string{"sh", "-c", strings.Join(parts, " && ")}
}

// StopCluster terminates the pod via DELETE /pods/{id} (spec §4.1.4).
func (p *Provider) StopCluster(ctx context.Context, clusterName string) (*v1.SimpleResult, error) {
	found, err := p.findPod(ctx, clusterName)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "runpod lookup failed for %s", clusterName)
	}
	if found == nil {
		return &v1.SimpleResult{Status: "ok", Message: fmt.Sprintf("pod %q not found", clusterName)}, nil
	}
	if err := p.rest.deletePod(ctx, found.ID); err != nil {
		return nil, apierrors.NewProviderTransient(err, "runpod delete pod failed for %s", clusterName)
	}
	p.forgetPod(clusterName)
	return &v1.SimpleResult{Status: "ok"}, nil
}

// GetClusterStatus maps the pod's status field (spec §4.1.4).
func (p *Provider) GetClusterStatus(ctx context.Context, clusterName string) (*v1.ClusterStatus, error) {
	found, err := p.findPod(ctx, clusterName)
	if err != nil || found == nil {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterUnknown}, nil
	}
	return &v1.ClusterStatus{ClusterName: clusterName, State: podStatusToClusterState(found.state())}, nil
}

func podStatusToClusterState(status string) v1.ClusterState {
	switch strings.ToUpper(status) {
	case "RUNNING":
		return v1.ClusterUp
	case "STOPPED":
		return v1.ClusterStopped
	case "TERMINATED":
		return v1.ClusterDown
	case "CREATING", "RESTARTING":
		return v1.ClusterInit
	case "FAILED":
		return v1.ClusterFailed
	default:
		return v1.ClusterUnknown
	}
}

// ListClusters lists every known pod (spec §4.1.4).
func (p *Provider) ListClusters(ctx context.Context) ([]v1.ClusterStatus, error) {
	pods, err := p.rest.listPods(ctx)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "runpod list pods failed")
	}
	out := make([]v1.ClusterStatus, 0, len(pods))
	for _, pd := range pods {
		out = append(out, v1.ClusterStatus{ClusterName: pd.Name, State: podStatusToClusterState(pd.state())})
	}
	return out, nil
}

// GetClustersDetailed is not implemented: Runpod pods have no multi-node
// view to compose (spec §4.1 allows an empty result).
func (p *Provider) GetClustersDetailed(ctx context.Context) ([]v1.ClusterDetail, error) {
	return nil, nil
}

// GetClusterResources is not exposed by the pod API beyond what
// launch_cluster already requested; returns an empty ResourceInfo.
func (p *Provider) GetClusterResources(ctx context.Context, clusterName string) (*v1.ResourceInfo, error) {
	return &v1.ResourceInfo{}, nil
}

// SubmitJob is unsupported: Runpod has no job submission endpoint separate
// from launch_cluster (spec §4.1.4).
func (p *Provider) SubmitJob(ctx context.Context, clusterName string, cfg v1.JobConfig) (*v1.SubmitResult, error) {
	return nil, apierrors.NewValidation("%v", ErrUnsupported)
}

// GetJobLogs is unsupported: no job queue/log endpoint exists (spec
// §4.1.4).
func (p *Provider) GetJobLogs(ctx context.Context, clusterName, jobID string, tailLines int) (string, error) {
	return "", apierrors.NewValidation("%v", ErrUnsupported)
}

func (p *Provider) GetJobLogsFollow(ctx context.Context, clusterName, jobID string) (<-chan string, error) {
	return nil, apierrors.NewValidation("%v", ErrUnsupported)
}

// CancelJob is unsupported: there is no job cancellation endpoint (spec
// §4.1.4); pod-level termination goes through StopCluster.
func (p *Provider) CancelJob(ctx context.Context, clusterName, jobID string) (*v1.SimpleResult, error) {
	return nil, apierrors.NewValidation("%v", ErrUnsupported)
}

// ListJobs is unsupported: Runpod has no job queue system (spec §4.1.4).
func (p *Provider) ListJobs(ctx context.Context, clusterName string) ([]v1.JobInfo, error) {
	return nil, apierrors.NewValidation("%v", ErrUnsupported)
}

// Check lists pods as a lightweight liveness probe.
func (p *Provider) Check(ctx context.Context) bool {
	_, err := p.rest.listPods(ctx)
	return err == nil
}
