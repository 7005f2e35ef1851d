// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package skypilot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// Provider wraps a remote SkyPilot-style control plane API server (spec
// §4.1.3).
type Provider struct {
	rest *restClient
}

// New builds a Provider pointed at baseURL, authenticating with token when
// non-empty.
func New(baseURL, token string) *Provider {
	return &Provider{rest: newRestClient(baseURL, token)}
}

// LaunchCluster builds the single-task DAG, serializes it to YAML, and
// POSTs it to /launch with down=true (spec §4.1.3 steps 1-2).
func (p *Provider) LaunchCluster(ctx context.Context, clusterName string, cfg v1.ClusterConfig) (*v1.LaunchResult, error) {
	taskYAML, err := buildTaskYAML(clusterName, cfg)
	if err != nil {
		return nil, apierrors.NewValidation("build task dag for %s: %v", clusterName, err)
	}
	if _, err := p.rest.launch(ctx, clusterName, taskYAML); err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot launch failed for %s", clusterName)
	}
	return &v1.LaunchResult{ClusterName: clusterName, Status: "submitted"}, nil
}

// StopCluster tears the cluster down via /down (spec §4.1.3).
func (p *Provider) StopCluster(ctx context.Context, clusterName string) (*v1.SimpleResult, error) {
	if err := p.rest.down(ctx, clusterName); err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot down failed for %s", clusterName)
	}
	return &v1.SimpleResult{Status: "ok"}, nil
}

// GetClusterStatus calls /status for exactly this cluster; unknown clusters
// never error (spec §4.1 "must not raise for missing clusters").
func (p *Provider) GetClusterStatus(ctx context.Context, clusterName string) (*v1.ClusterStatus, error) {
	rows, err := p.rest.status(ctx, []string{clusterName})
	if err != nil || len(rows) == 0 {
		return &v1.ClusterStatus{ClusterName: clusterName, State: v1.ClusterUnknown}, nil
	}
	status, _ := rows[0]["status"].(string)
	return &v1.ClusterStatus{ClusterName: clusterName, State: statusStringToClusterState(status)}, nil
}

// ListClusters calls /status with no filter (spec §4.1.3 step 4).
func (p *Provider) ListClusters(ctx context.Context) ([]v1.ClusterStatus, error) {
	rows, err := p.rest.status(ctx, nil)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot status failed")
	}
	out := make([]v1.ClusterStatus, 0, len(rows))
	for _, row := range rows {
		name, _ := row["cluster_name"].(string)
		status, _ := row["status"].(string)
		out = append(out, v1.ClusterStatus{ClusterName: name, State: statusStringToClusterState(status)})
	}
	return out, nil
}

// GetClustersDetailed composes three views per spec §4.1.3 step 6: cloud
// clusters from /status, SSH node pools from /ssh_node_pools +
// /kubernetes_node_info joined by region "ssh-<pool>", and the running GPU
// allocation recomputed by summing requests instead of trusting stale kube
// free-counts.
func (p *Provider) GetClustersDetailed(ctx context.Context) ([]v1.ClusterDetail, error) {
	rows, err := p.rest.status(ctx, nil)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot status failed")
	}

	gpuUsedByPool := map[string]int{}
	details := make([]v1.ClusterDetail, 0, len(rows))
	for _, row := range rows {
		name, _ := row["cluster_name"].(string)
		status, _ := row["status"].(string)
		resourcesStr, _ := row["resources_str_full"].(string)
		info := parseResourcesStrFull(resourcesStr)

		region, _ := row["region"].(string)
		if pool, ok := strings.CutPrefix(region, "ssh-"); ok && statusStringToClusterState(status) == v1.ClusterUp {
			for _, g := range info.GPUs {
				gpuUsedByPool[pool] += g.Count
			}
		}

		details = append(details, v1.ClusterDetail{
			ClusterName: name,
			BackendType: "cloud",
			Nodes: []v1.NodeDetail{{
				NodeName: name,
				IsActive: statusStringToClusterState(status) == v1.ClusterUp,
				State:    status,
				Resources: v1.NodeResources{
					CPUsTotal:     info.CPUs,
					MemoryGBTotal: info.MemoryGB,
				},
			}},
		})
	}

	pools, err := p.rest.sshNodePools(ctx)
	if err != nil {
		// SSH node pools are an optional control-plane feature; absence is
		// not fatal to the cloud-cluster view above.
		return details, nil
	}
	for _, pool := range pools {
		poolName, _ := pool["name"].(string)
		nodeInfo, err := p.rest.kubernetesNodeInfo(ctx, poolName)
		if err != nil {
			continue
		}
		detail := buildSSHPoolDetail(poolName, nodeInfo, gpuUsedByPool[poolName])
		details = append(details, detail)
	}
	return details, nil
}

// buildSSHPoolDetail turns one kubernetes_node_info response into a
// ClusterDetail, setting every node's gpus_free to the pool's total GPUs
// minus usedByPool (floored at 0) rather than whatever free-count
// kubernetes reports (spec §4.1.3 step 6: "never
// trusting stale kube free-counts").
func buildSSHPoolDetail(poolName string, nodeInfo map[string]interface{}, usedByPool int) v1.ClusterDetail {
	nodes, _ := nodeInfo["nodes"].([]interface{})
	detail := v1.ClusterDetail{
		ClusterName: "ssh-" + poolName,
		BackendType: "ssh_node_pool",
	}

	totalGPUs := 0
	for _, raw := range nodes {
		n, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := n["name"].(string)
		gpuTotal := intField(n, "gpu_total")
		totalGPUs += gpuTotal
		detail.Nodes = append(detail.Nodes, v1.NodeDetail{
			NodeName: name,
			IsActive: true,
			State:    "ready",
			Resources: v1.NodeResources{
				CPUsTotal:     floatField(n, "cpu_total"),
				MemoryGBTotal: floatField(n, "memory_gb_total"),
				GPUsFree:      gpuTotal,
			},
		})
	}

	free := totalGPUs - usedByPool
	if free < 0 {
		free = 0
	}
	for i := range detail.Nodes {
		detail.Nodes[i].Resources.GPUsFree = free
	}
	return detail
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func floatField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// GetClusterResources parses resources_str_full for clusterName (spec
// §4.1.3 step 4).
func (p *Provider) GetClusterResources(ctx context.Context, clusterName string) (*v1.ResourceInfo, error) {
	rows, err := p.rest.status(ctx, []string{clusterName})
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot status failed for %s", clusterName)
	}
	if len(rows) == 0 {
		return &v1.ResourceInfo{}, nil
	}
	resourcesStr, _ := rows[0]["resources_str_full"].(string)
	info := parseResourcesStrFull(resourcesStr)
	return &info, nil
}

// SubmitJob runs the command via /exec against an already-launched cluster
// (spec §4.1.3; job submission separate from launch_cluster).
func (p *Provider) SubmitJob(ctx context.Context, clusterName string, cfg v1.JobConfig) (*v1.SubmitResult, error) {
	result, err := p.rest.exec(ctx, clusterName, cfg.Command)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot exec failed for %s", clusterName)
	}
	jobID := ""
	if m, ok := result.(map[string]interface{}); ok {
		if id, ok := m["job_id"]; ok {
			jobID = fmt.Sprintf("%v", id)
		}
	}
	return &v1.SubmitResult{JobID: jobID}, nil
}

// GetJobLogs POSTs /logs and returns the tail (spec §4.1.3 step 5).
func (p *Provider) GetJobLogs(ctx context.Context, clusterName, jobID string, tailLines int) (string, error) {
	out, err := p.rest.logs(ctx, clusterName, jobID, tailLines)
	if err != nil {
		return "", apierrors.NewProviderTransient(err, "skypilot logs failed for %s", clusterName)
	}
	return out, nil
}

// GetJobLogsFollow polls /logs on a fixed interval and streams each new
// complete line as it's observed, since the control plane's streaming mode
// is not exposed through resty's synchronous client. A trailing line with
// no newline yet is held until its newline arrives. The channel closes when
// ctx is done or a /logs call fails.
func (p *Provider) GetJobLogsFollow(ctx context.Context, clusterName, jobID string) (<-chan string, error) {
	ch := make(chan string)
	go func() {
		defer close(ch)
		var lastLen int
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				out, err := p.rest.logs(ctx, clusterName, jobID, 0)
				if err != nil {
					return
				}
				if len(out) > lastLen {
					chunk := out[lastLen:]
					end := strings.LastIndex(chunk, "\n")
					if end < 0 {
						continue
					}
					for _, line := range strings.Split(chunk[:end], "\n") {
						select {
						case ch <- line:
						case <-ctx.Done():
							return
						}
					}
					lastLen += end + 1
				}
			}
		}
	}()
	return ch, nil
}

// CancelJob POSTs /cancel for jobID (spec §4.1.3).
func (p *Provider) CancelJob(ctx context.Context, clusterName, jobID string) (*v1.SimpleResult, error) {
	if err := p.rest.cancel(ctx, clusterName, jobID); err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot cancel failed for %s/%s", clusterName, jobID)
	}
	return &v1.SimpleResult{Status: "ok"}, nil
}

// ListJobs POSTs /queue (spec §4.1.3).
func (p *Provider) ListJobs(ctx context.Context, clusterName string) ([]v1.JobInfo, error) {
	rows, err := p.rest.queue(ctx, clusterName)
	if err != nil {
		return nil, apierrors.NewProviderTransient(err, "skypilot queue failed for %s", clusterName)
	}
	out := make([]v1.JobInfo, 0, len(rows))
	for _, row := range rows {
		id := fmt.Sprintf("%v", row["job_id"])
		name, _ := row["job_name"].(string)
		status, _ := row["status"].(string)
		submit, _ := row["submitted_at"].(string)
		end, _ := row["end_at"].(string)
		out = append(out, v1.JobInfo{
			JobID:   id,
			Name:    name,
			State:   jobStatusStringToJobState(status),
			Submit:  submit,
			EndTime: end,
		})
	}
	return out, nil
}

// Check calls GET /api/health (spec §4.1.3 step 7).
func (p *Provider) Check(ctx context.Context) bool {
	return p.rest.health(ctx)
}
