// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestPrepareNextTaskIO_OverwritesOnlyDeclaredKeys(t *testing.T) {
	task := &v1.WorkflowNode{
		ID:      "task2",
		Type:    v1.NodeTask,
		Inputs:  `{"model_name":""}`,
		Outputs: `{}`,
	}
	previous := map[string]string{"model_name": "llama-7b", "unexpected_key": "value"}

	inputs, outputs, err := prepareNextTaskIO(task, v1.JobTypeEval, previous)
	require.NoError(t, err)

	var inDoc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(inputs), &inDoc))
	require.Equal(t, "llama-7b", inDoc["model_name"])
	require.NotContains(t, inDoc, "unexpected_key")

	var outDoc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(outputs), &outDoc))
	require.NotContains(t, outDoc, "unexpected_key")
}

func TestPrepareNextTaskIO_TrainAlwaysGetsAdaptorNameOutput(t *testing.T) {
	task := &v1.WorkflowNode{ID: "t1", Type: v1.NodeTask}

	_, outputs, err := prepareNextTaskIO(task, v1.JobTypeTrain, map[string]string{})
	require.NoError(t, err)

	var outDoc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(outputs), &outDoc))
	require.Contains(t, outDoc, "adaptor_name")
}

func TestPrepareNextTaskIO_KnownKeyPropagatesEvenWithoutPriorDeclaration(t *testing.T) {
	task := &v1.WorkflowNode{ID: "t2", Type: v1.NodeTask, Inputs: "", Outputs: ""}

	inputs, _, err := prepareNextTaskIO(task, v1.JobTypeTrain, map[string]string{"model_name": "llama"})
	require.NoError(t, err)

	var inDoc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(inputs), &inDoc))
	require.Equal(t, "llama", inDoc["model_name"])
}

func TestPrepareNextTaskIO_BlankDocumentsDecodeAsEmptyObject(t *testing.T) {
	task := &v1.WorkflowNode{ID: "t3", Type: v1.NodeTask}
	inputs, outputs, err := prepareNextTaskIO(task, v1.JobTypeEval, map[string]string{})
	require.NoError(t, err)
	require.JSONEq(t, "{}", inputs)
	require.JSONEq(t, "{}", outputs)
}
