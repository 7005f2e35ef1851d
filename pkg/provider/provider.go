// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package provider defines the compute-provider contract (spec §1 C4, §4.1)
// implemented by the local, SLURM, SkyPilot-style and Runpod-style backends.
package provider

import (
	"context"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// Provider is the uniform contract every compute backend implements. All
// methods are synchronous on the provider object; concurrency is supplied
// by the dispatcher's worker pool, not by the provider itself (spec §4.1,
// §9 REDESIGN FLAGS "provider methods are synchronous, always executed via
// a worker pool").
type Provider interface {
	// LaunchCluster provisions compute and starts cfg.Command.
	LaunchCluster(ctx context.Context, clusterName string, cfg v1.ClusterConfig) (*v1.LaunchResult, error)
	// StopCluster stops without tear-down where meaningful; idempotent.
	StopCluster(ctx context.Context, clusterName string) (*v1.SimpleResult, error)
	// GetClusterStatus never errors for a missing cluster; it returns UNKNOWN.
	GetClusterStatus(ctx context.Context, clusterName string) (*v1.ClusterStatus, error)
	// ListClusters returns every known cluster, or an empty slice.
	ListClusters(ctx context.Context) ([]v1.ClusterStatus, error)
	// GetClustersDetailed composes the UI-facing detailed cluster view.
	GetClustersDetailed(ctx context.Context) ([]v1.ClusterDetail, error)
	// GetClusterResources returns the normalized resource footprint.
	GetClusterResources(ctx context.Context, clusterName string) (*v1.ResourceInfo, error)
	// SubmitJob returns an apierrors Validation error for providers whose
	// LaunchCluster already runs the work (local, runpod) (spec §4.1: "may be
	// NotImplemented").
	SubmitJob(ctx context.Context, clusterName string, cfg v1.JobConfig) (*v1.SubmitResult, error)
	// GetJobLogs returns the concatenated tail when follow is false. Follow
	// mode is exposed through GetJobLogsFollow instead of a sum-typed
	// return, since Go has no "string | iterator" result.
	GetJobLogs(ctx context.Context, clusterName, jobID string, tailLines int) (string, error)
	// GetJobLogsFollow returns a channel of log lines, closed when the job's
	// log stream ends (spec §4.1 follow=true case, §6.5).
	GetJobLogsFollow(ctx context.Context, clusterName, jobID string) (<-chan string, error)
	// CancelJob cancels a provider-side job.
	CancelJob(ctx context.Context, clusterName, jobID string) (*v1.SimpleResult, error)
	// ListJobs lists every job known to clusterName.
	ListJobs(ctx context.Context, clusterName string) ([]v1.JobInfo, error)
	// Check is a lightweight liveness probe; it must never panic or block
	// indefinitely (spec §4.1, §4.1.5 router contract).
	Check(ctx context.Context) bool
}

// Name identifies a provider kind for error messages and routing.
type Name string
