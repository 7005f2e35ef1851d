// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestDecodeNestedJSONFields_DecodesOnlyListedKeys(t *testing.T) {
	cfg := map[string]interface{}{
		"inferenceParams": `{"temperature":0.7}`,
		"evaluations":     `["accuracy","f1"]`,
		"other_field":     `{"left":"as-is string"}`,
	}

	out := decodeNestedJSONFields(cfg)

	params, ok := out["inferenceParams"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, 0.7, params["temperature"])

	evals, ok := out["evaluations"].([]interface{})
	require.True(t, ok)
	require.Equal(t, []interface{}{"accuracy", "f1"}, evals)

	require.Equal(t, `{"left":"as-is string"}`, out["other_field"])
}

func TestDecodeNestedJSONFields_LeavesMalformedStringUntouched(t *testing.T) {
	cfg := map[string]interface{}{"inferenceParams": "not json"}
	out := decodeNestedJSONFields(cfg)
	require.Equal(t, "not json", out["inferenceParams"])
}

func TestWriteInputFile_WritesMergedDocumentUnderJobDirTemp(t *testing.T) {
	jobDir := t.TempDir()

	path, err := writeInputFile(jobDir, "exp-name", map[string]interface{}{"key": "value"}, map[string]interface{}{"lr": 0.01})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(jobDir, "temp", "input_file.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))

	experiment, ok := doc["experiment"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "exp-name", experiment["name"])

	config, ok := doc["config"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, 0.01, config["lr"])
}

func TestFlagValue_JSONEncodesListsAndObjects(t *testing.T) {
	require.Equal(t, "plain", flagValue("plain"))
	require.Equal(t, `["a","b"]`, flagValue([]interface{}{"a", "b"}))
	require.Equal(t, "3.5", flagValue(3.5))
}

func TestScriptParametersFlags_ExpandsScriptParametersMap(t *testing.T) {
	cfg := map[string]interface{}{
		"script_parameters": map[string]interface{}{
			"epochs": float64(3),
		},
	}
	flags := scriptParametersFlags(cfg)
	require.Equal(t, []string{"--epochs", "3"}, flags)
}

func TestScriptParametersFlags_NilWhenAbsent(t *testing.T) {
	require.Nil(t, scriptParametersFlags(map[string]interface{}{}))
}

func TestJobCreatedOrder_SortsOldestFirst(t *testing.T) {
	now := time.Now()
	j1 := v1.NewJob("j1", "exp", v1.JobTypeTrain)
	j1.CreatedAt = now.Add(2 * time.Minute)
	j2 := v1.NewJob("j2", "exp", v1.JobTypeTrain)
	j2.CreatedAt = now
	j3 := v1.NewJob("j3", "exp", v1.JobTypeTrain)
	j3.CreatedAt = now.Add(time.Minute)

	ordered := jobCreatedOrder([]*v1.Job{j1, j2, j3})
	require.Equal(t, []string{"j2", "j3", "j1"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}
