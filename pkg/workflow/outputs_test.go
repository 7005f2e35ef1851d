// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestExtractPreviousJobOutputs_Generate_PrefersTopLevelDatasetID(t *testing.T) {
	job := v1.NewJob("j1", "exp1", v1.JobTypeGenerate)
	job.JobData.SetString(v1.JobDataDatasetID, "My Dataset!")
	job.JobData["config"] = map[string]interface{}{"dataset_id": "other-id"}

	out := extractPreviousJobOutputs(job)
	require.Equal(t, "My_Dataset_", out["dataset_name"])
}

func TestExtractPreviousJobOutputs_Generate_FallsBackToConfigDatasetID(t *testing.T) {
	job := v1.NewJob("j1", "exp1", v1.JobTypeGenerate)
	job.JobData["config"] = map[string]interface{}{"dataset_id": "cfg-id"}

	out := extractPreviousJobOutputs(job)
	require.Equal(t, "cfg-id", out["dataset_name"])
}

func TestExtractPreviousJobOutputs_Generate_EmptyWhenNoDatasetID(t *testing.T) {
	job := v1.NewJob("j1", "exp1", v1.JobTypeGenerate)
	out := extractPreviousJobOutputs(job)
	require.Empty(t, out)
}

func TestExtractPreviousJobOutputs_Train_IncludesAdaptorOnlyWhenPresent(t *testing.T) {
	withAdaptor := v1.NewJob("j1", "exp1", v1.JobTypeTrain)
	withAdaptor.JobData["config"] = map[string]interface{}{"model_name": "llama", "adaptor_name": "adapter-1"}
	out := extractPreviousJobOutputs(withAdaptor)
	require.Equal(t, map[string]string{"model_name": "llama", "adaptor_name": "adapter-1"}, out)

	withoutAdaptor := v1.NewJob("j2", "exp1", v1.JobTypeTrain)
	withoutAdaptor.JobData["config"] = map[string]interface{}{"model_name": "llama"}
	out = extractPreviousJobOutputs(withoutAdaptor)
	require.Equal(t, map[string]string{"model_name": "llama"}, out)
}

func TestExtractPreviousJobOutputs_OtherTypesEmpty(t *testing.T) {
	job := v1.NewJob("j1", "exp1", v1.JobTypeEval)
	require.Empty(t, extractPreviousJobOutputs(job))
}

func TestKnownIOKeys(t *testing.T) {
	require.ElementsMatch(t, []string{"model_name", "adaptor_name"}, knownIOKeys(v1.JobTypeTrain))
	require.ElementsMatch(t, []string{"dataset_name"}, knownIOKeys(v1.JobTypeGenerate))
	require.Nil(t, knownIOKeys(v1.JobTypeEval))
}
