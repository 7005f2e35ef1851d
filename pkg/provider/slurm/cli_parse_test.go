// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package slurm

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestParseSinfoNodes(t *testing.T) {
	output := "gpu gpu:a100:8 64 512000 2\ncpu (null) 32 64 4\n"
	info := parseSinfoNodes(output)

	require.Equal(t, 6, info.NumNodes)
	require.Equal(t, float64(64*2+32*4), info.CPUs)
	require.Len(t, info.GPUs, 1)
	require.Equal(t, "a100", info.GPUs[0].Type)
	require.Equal(t, 16, info.GPUs[0].Count)
}

func TestParseSinfoNodes_MemoryHeuristic(t *testing.T) {
	// 512000 MB -> 500 GB (>=100 treated as MB)
	info := parseSinfoNodes("gpu gpu:4 8 512000 1\n")
	require.InDelta(t, 500.0, info.MemoryGB, 0.001)

	// 48 GB already below the 100 threshold, stays as-is
	info2 := parseSinfoNodes("gpu gpu:1 8 48 1\n")
	require.InDelta(t, 48.0, info2.MemoryGB, 0.001)
}

func TestParseGres(t *testing.T) {
	gtype, count, ok := parseGres("gpu:a100:4")
	require.True(t, ok)
	require.Equal(t, "a100", gtype)
	require.Equal(t, 4, count)

	gtype, count, ok = parseGres("gpu:2")
	require.True(t, ok)
	require.Equal(t, "gpu", gtype)
	require.Equal(t, 2, count)

	_, _, ok = parseGres("(null)")
	require.False(t, ok)
}

func TestParseSqueue(t *testing.T) {
	output := "1234 my-job RUNNING 2026-07-30T10:00:00 N/A\n5678 other-job PENDING N/A N/A\n"
	entries := parseSqueue(output)
	require.Len(t, entries, 2)
	require.Equal(t, "1234", entries[0].JobID)
	require.Equal(t, "my-job", entries[0].Name)
	require.Equal(t, "RUNNING", entries[0].State)
}

func TestSlurmStateToJobState(t *testing.T) {
	cases := map[string]v1.JobState{
		"PENDING":   v1.ProviderJobPending,
		"PD":        v1.ProviderJobPending,
		"RUNNING":   v1.ProviderJobRunning,
		"R":         v1.ProviderJobRunning,
		"COMPLETED": v1.ProviderJobCompleted,
		"FAILED":    v1.ProviderJobFailed,
		"TIMEOUT":   v1.ProviderJobFailed,
		"CANCELLED": v1.ProviderJobCancelled,
		"CA":        v1.ProviderJobCancelled,
		"SUSPENDED": v1.ProviderJobUnknown,
	}
	for in, want := range cases {
		require.Equal(t, want, slurmStateToJobState(in), in)
	}
}
