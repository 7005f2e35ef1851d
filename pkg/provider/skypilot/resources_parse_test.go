// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package skypilot

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestParseResourcesStrFull(t *testing.T) {
	info := parseResourcesStrFull("2x(gpus=A100:4, cpus=32, mem=256, disk=500)")
	require.Equal(t, 2, info.NumNodes)
	require.InDelta(t, 64.0, info.CPUs, 0.001)
	require.InDelta(t, 512.0, info.MemoryGB, 0.001)
	require.InDelta(t, 1000.0, info.DiskGB, 0.001)
	require.Len(t, info.GPUs, 1)
	require.Equal(t, "A100", info.GPUs[0].Type)
	require.Equal(t, 8, info.GPUs[0].Count)
}

func TestParseResourcesStrFull_Malformed(t *testing.T) {
	info := parseResourcesStrFull("not a resources string")
	require.Equal(t, v1.ResourceInfo{}, info)
}

func TestStatusStringToClusterState(t *testing.T) {
	require.Equal(t, v1.ClusterUp, statusStringToClusterState("UP"))
	require.Equal(t, v1.ClusterInit, statusStringToClusterState("init"))
	require.Equal(t, v1.ClusterUnknown, statusStringToClusterState("weird"))
}

func TestJobStatusStringToJobState(t *testing.T) {
	require.Equal(t, v1.ProviderJobRunning, jobStatusStringToJobState("RUNNING"))
	require.Equal(t, v1.ProviderJobCompleted, jobStatusStringToJobState("SUCCEEDED"))
	require.Equal(t, v1.ProviderJobFailed, jobStatusStringToJobState("FAILED_SETUP"))
}

func TestBuildTaskYAML(t *testing.T) {
	cfg := v1.ClusterConfig{
		CPUs:         8,
		MemoryGB:     32,
		Accelerators: "A100:1",
		Cloud:        "aws",
		Command:      "python train.py",
		Setup:        "pip install -r requirements.txt",
		EnvVars:      map[string]string{"FOO": "bar"},
		NumNodes:     1,
	}
	out, err := buildTaskYAML("my-cluster", cfg)
	require.NoError(t, err)
	require.Contains(t, out, "name: my-cluster")
	require.Contains(t, out, "accelerators: A100:1")
	require.Contains(t, out, "run: python train.py")
}
