// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"

// secretEnvNames maps a team secret store key to the env var name a plugin
// expects it under (spec §4.3 common preflight). Every other secret is
// passed through under its own name unchanged.
var secretEnvNames = map[string]string{
	"HuggingfaceUserAccessToken": "HF_TOKEN",
	"WANDB_API_KEY":              "WANDB_API_KEY",
	"OPENAI_API_KEY":             "OPENAI_API_KEY",
	"ANTHROPIC_API_KEY":          "ANTHROPIC_API_KEY",
	"CUSTOM_MODEL_API_KEY":       "CUSTOM_MODEL_API_KEY",
	"AZURE_OPENAI_DETAILS":       "AZURE_OPENAI_DETAILS",
}

// buildPluginJobEnvVars assembles the env a plugin subprocess receives:
// job/experiment/org/user identity, the source tree location the local
// provider syncs its venv against, and whichever of the well-known secret
// names are present in secrets (spec §4.3 common preflight).
func buildPluginJobEnvVars(job *v1.Job, orgID, userID, sourceCodeDir string, secrets map[string]string) map[string]string {
	env := map[string]string{
		"_TFL_JOB_ID":         job.ID,
		"_TFL_EXPERIMENT_ID":  job.ExperimentID,
		"_TFL_SOURCE_CODE_DIR": sourceCodeDir,
	}
	if orgID != "" {
		env["_TFL_ORG_ID"] = orgID
	}
	if userID != "" {
		env["_TFL_USER_ID"] = userID
	}
	for secretName, value := range secrets {
		envName, ok := secretEnvNames[secretName]
		if !ok {
			envName = secretName
		}
		if value != "" {
			env[envName] = value
		}
	}
	return env
}
