// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package slurm

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestBuildSbatchScript(t *testing.T) {
	cfg := v1.ClusterConfig{
		NumNodes:              2,
		IdleMinutesToAutostop: 60,
		EnvVars:               map[string]string{"B_VAR": "2", "A_VAR": "1"},
		Setup:                 "pip install -e .",
		Command:               "python train.py",
	}
	script := buildSbatchScript("my-job", cfg)

	require.Contains(t, script, "#!/bin/bash\n")
	require.Contains(t, script, "#SBATCH --job-name=my-job\n")
	require.Contains(t, script, "#SBATCH --nodes=2\n")
	require.Contains(t, script, "#SBATCH --time=60\n")
	require.Contains(t, script, "export A_VAR=\"1\"\n")
	require.Contains(t, script, "export B_VAR=\"2\"\n")
	require.Contains(t, script, "pip install -e .")
	require.Contains(t, script, "python train.py")

	// env vars are deterministically ordered
	aIdx := indexOf(script, "A_VAR")
	bIdx := indexOf(script, "B_VAR")
	require.Less(t, aIdx, bIdx)
}

func TestBuildSbatchScript_DefaultsSingleNode(t *testing.T) {
	cfg := v1.ClusterConfig{Command: "echo hi"}
	script := buildSbatchScript("job", cfg)
	require.Contains(t, script, "#SBATCH --nodes=1\n")
}

func TestParseSubmittedJobID(t *testing.T) {
	id, err := parseSubmittedJobID("Submitted batch job 98765\n")
	require.NoError(t, err)
	require.Equal(t, "98765", id)
}

func TestParseSubmittedJobID_Malformed(t *testing.T) {
	_, err := parseSubmittedJobID("sbatch: error: invalid option\n")
	require.Error(t, err)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
