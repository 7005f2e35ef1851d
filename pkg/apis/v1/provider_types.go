// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package v1

// ProviderKind names one of the closed set of compute backends (spec §3,
// §4.1).
type ProviderKind string

const (
	ProviderKindLocal    ProviderKind = "local"
	ProviderKindSlurm    ProviderKind = "slurm"
	ProviderKindSkypilot ProviderKind = "skypilot"
	ProviderKindRunpod   ProviderKind = "runpod"
)

// ProviderRecord is a team-scoped provider registration (spec §3). Config is
// provider-type dependent and left open here; each provider package decodes
// the subset it understands (SPEC_FULL.md Open Question / REDESIGN FLAGS
// note a tagged-union config as the systems-language target — decode
// functions in pkg/provider/* play that role without a generic sum type).
type ProviderRecord struct {
	ID     string                 `json:"id"`
	TeamID string                 `json:"team_id"`
	Type   ProviderKind           `json:"type"`
	Name   string                 `json:"name"`
	Config map[string]interface{} `json:"config"`
}

// ClusterState is the normalized liveness state of a cluster/run across all
// providers (spec §4.1).
type ClusterState string

const (
	ClusterUnknown ClusterState = "UNKNOWN"
	ClusterInit    ClusterState = "INIT"
	ClusterUp      ClusterState = "UP"
	ClusterStopped ClusterState = "STOPPED"
	ClusterDown    ClusterState = "DOWN"
	ClusterFailed  ClusterState = "FAILED"
)

// JobState is the normalized state of a provider-side job (spec §4.1),
// distinct from JobStatus which is this core's own Job lifecycle.
type JobState string

const (
	ProviderJobPending   JobState = "PENDING"
	ProviderJobRunning   JobState = "RUNNING"
	ProviderJobCompleted JobState = "COMPLETED"
	ProviderJobFailed    JobState = "FAILED"
	ProviderJobCancelled JobState = "CANCELLED"
	ProviderJobUnknown   JobState = "UNKNOWN"
)

// ClusterConfig is the uniform input to launch_cluster/submit_job across all
// providers (spec §4.1).
type ClusterConfig struct {
	ClusterName          string            `json:"cluster_name"`
	ProviderName          string            `json:"provider_name"`
	InstanceType          string            `json:"instance_type,omitempty"`
	CPUs                  float64           `json:"cpus,omitempty"`
	MemoryGB               float64           `json:"memory,omitempty"`
	Accelerators           string            `json:"accelerators,omitempty"` // "TYPE:N"
	DiskSizeGB             float64           `json:"disk_size,omitempty"`
	NumNodes               int               `json:"num_nodes,omitempty"`
	Cloud                  string            `json:"cloud,omitempty"`
	Region                 string            `json:"region,omitempty"`
	Zone                   string            `json:"zone,omitempty"`
	UseSpot                bool              `json:"use_spot,omitempty"`
	IdleMinutesToAutostop  int               `json:"idle_minutes_to_autostop,omitempty"`
	Command                string            `json:"command"`
	Setup                  string            `json:"setup,omitempty"`
	EnvVars                map[string]string `json:"env_vars,omitempty"`
	FileMounts             map[string]string `json:"file_mounts,omitempty"` // remote -> local
	ProviderConfig         map[string]string `json:"provider_config,omitempty"`
}

// JobConfig is the uniform input to submit_job for providers that separate
// cluster provisioning from job submission (spec §4.1).
type JobConfig struct {
	Command        string            `json:"command"`
	JobName        string            `json:"job_name"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	NumNodes       int               `json:"num_nodes,omitempty"`
	Timeout        int               `json:"timeout,omitempty"`
	ProviderConfig map[string]string `json:"provider_config,omitempty"`
}

// LaunchResult is the result of launch_cluster (spec §4.1).
type LaunchResult struct {
	ClusterName string `json:"cluster_name"`
	JobID       string `json:"job_id,omitempty"`
	PID         int    `json:"pid,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// SimpleResult is the result of stop_cluster/cancel_job (spec §4.1).
type SimpleResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ClusterStatus is the normalized status of a single cluster (spec §4.1).
type ClusterStatus struct {
	ClusterName string       `json:"cluster_name"`
	State       ClusterState `json:"state"`
}

// GPUCount pairs a GPU type string with the count requested/available.
type GPUCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ResourceInfo is the normalized resource footprint of a cluster (spec §4.1).
type ResourceInfo struct {
	CPUs     float64    `json:"cpus"`
	MemoryGB float64    `json:"memory_gb"`
	DiskGB   float64    `json:"disk_gb"`
	GPUs     []GPUCount `json:"gpus"`
	NumNodes int        `json:"num_nodes"`
}

// NodeResources describes one node's resource accounting within a detailed
// cluster view (spec §4.1, get_clusters_detailed).
type NodeResources struct {
	CPUsTotal       float64        `json:"cpus_total"`
	CPUsAllocated   float64        `json:"cpus_allocated"`
	GPUs            map[string]int `json:"gpus"`
	GPUsFree        int            `json:"gpus_free"`
	MemoryGBTotal   float64        `json:"memory_gb_total"`
	MemoryGBAllocated float64      `json:"memory_gb_allocated"`
}

// NodeDetail describes one node of a detailed cluster view.
type NodeDetail struct {
	NodeName  string        `json:"node_name"`
	IsFixed   bool          `json:"is_fixed"`
	IsActive  bool          `json:"is_active"`
	State     string        `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	Resources NodeResources `json:"resources"`
}

// ClusterDetail is the UI-facing detailed cluster view (spec §4.1).
type ClusterDetail struct {
	ClusterID       string       `json:"cluster_id"`
	ClusterName     string       `json:"cluster_name"`
	BackendType     string       `json:"backend_type"`
	ElasticEnabled  bool         `json:"elastic_enabled"`
	MaxNodes        int          `json:"max_nodes"`
	HeadNodeIP      string       `json:"head_node_ip,omitempty"`
	Nodes           []NodeDetail `json:"nodes"`
}

// SubmitResult is returned by submit_job for providers that return a job id
// or a request id to poll (spec §4.1).
type SubmitResult struct {
	JobID     string `json:"job_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JobInfo is a normalized provider-side job entry (spec §4.1).
type JobInfo struct {
	JobID   string   `json:"job_id"`
	Name    string   `json:"name,omitempty"`
	State   JobState `json:"state"`
	Submit  string   `json:"submit_time,omitempty"`
	EndTime string   `json:"end_time,omitempty"`
}
