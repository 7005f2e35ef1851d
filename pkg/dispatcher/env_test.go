// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestBuildPluginJobEnvVars_MapsKnownSecretNames(t *testing.T) {
	job := v1.NewJob("job1", "exp1", v1.JobTypeTrain)
	secrets := map[string]string{
		"HuggingfaceUserAccessToken": "hf-token-value",
		"SOME_OTHER_SECRET":          "passthrough-value",
	}

	env := buildPluginJobEnvVars(job, "org1", "user1", "/src", secrets)

	require.Equal(t, "job1", env["_TFL_JOB_ID"])
	require.Equal(t, "exp1", env["_TFL_EXPERIMENT_ID"])
	require.Equal(t, "/src", env["_TFL_SOURCE_CODE_DIR"])
	require.Equal(t, "org1", env["_TFL_ORG_ID"])
	require.Equal(t, "user1", env["_TFL_USER_ID"])
	require.Equal(t, "hf-token-value", env["HF_TOKEN"])
	require.Equal(t, "passthrough-value", env["SOME_OTHER_SECRET"])
}

func TestBuildPluginJobEnvVars_OmitsEmptyOrgAndUser(t *testing.T) {
	job := v1.NewJob("job1", "exp1", v1.JobTypeTrain)

	env := buildPluginJobEnvVars(job, "", "", "/src", nil)

	_, hasOrg := env["_TFL_ORG_ID"]
	_, hasUser := env["_TFL_USER_ID"]
	require.False(t, hasOrg)
	require.False(t, hasUser)
}

func TestBuildPluginJobEnvVars_SkipsBlankSecretValues(t *testing.T) {
	job := v1.NewJob("job1", "exp1", v1.JobTypeTrain)
	secrets := map[string]string{"WANDB_API_KEY": ""}

	env := buildPluginJobEnvVars(job, "org1", "", "/src", secrets)

	_, ok := env["WANDB_API_KEY"]
	require.False(t, ok)
}
