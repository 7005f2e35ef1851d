// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

func TestEvalFlags_IncludesEvalNameAndModelFields(t *testing.T) {
	job := v1.NewJob("job1", "exp1", v1.JobTypeEval)
	b := buildCtx{
		job:            job,
		cfg:            map[string]interface{}{"eval_name": "eval1", "model_name": "llama"},
		inputFilePath:  "/tmp/input.json",
		experimentName: "exp-name",
	}

	flags := evalFlags(b)

	require.Contains(t, flags, "--eval_name")
	require.Contains(t, flags, "eval1")
	require.Contains(t, flags, "--model_name")
	require.Contains(t, flags, "llama")
	require.Contains(t, flags, "--job_id")
	require.Contains(t, flags, job.ID)
}

func TestGenerateFlags_UsesGenerationNameNotEvalName(t *testing.T) {
	job := v1.NewJob("job1", "exp1", v1.JobTypeGenerate)
	b := buildCtx{job: job, cfg: map[string]interface{}{"generation_name": "gen1"}, inputFilePath: "/tmp/input.json"}

	flags := generateFlags(b)

	require.Contains(t, flags, "--generation_name")
	require.Contains(t, flags, "gen1")
	require.NotContains(t, flags, "--eval_name")
}

func TestExportOutputModelID_AppendsQTypeAndGGUFSuffix(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := map[string]interface{}{"input_model": "llama-7b", "q_type": "q4", "output_format": "gguf"}

	id := exportOutputModelID(cfg, now)

	require.Equal(t, "llama-7b-1700000000-q4.gguf", id)
}

func TestExportOutputModelID_PlainWithoutQTypeOrGGUF(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := map[string]interface{}{"input_model": "llama-7b"}

	id := exportOutputModelID(cfg, now)

	require.Equal(t, "llama-7b-1700000000", id)
}

func TestTrainFlags_OnlyInputFileAndExperimentName(t *testing.T) {
	b := buildCtx{inputFilePath: "/tmp/input.json", experimentName: "exp-name"}
	require.Equal(t, []string{"--input_file", "/tmp/input.json", "--experiment_name", "exp-name"}, trainFlags(b))
}

func TestMaterializeDiffusionImages_DecodesAndStripsBase64Fields(t *testing.T) {
	jobDir := t.TempDir()
	cfg := map[string]interface{}{
		"input_image": "aGVsbG8=",
		"prompt":      "a cat",
	}

	flags, cleaned, err := materializeDiffusionImages(cfg, jobDir)
	require.NoError(t, err)
	require.Contains(t, flags, "--input_image_path")
	require.NotContains(t, cleaned, "input_image")
	require.Equal(t, "a cat", cleaned["prompt"])

	written, err := os.ReadFile(filepath.Join(jobDir, "input_image.png"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(written))
}

func TestMaterializeDiffusionImages_NoopWhenNoImageFields(t *testing.T) {
	jobDir := t.TempDir()
	cfg := map[string]interface{}{"prompt": "a cat"}

	flags, cleaned, err := materializeDiffusionImages(cfg, jobDir)
	require.NoError(t, err)
	require.Empty(t, flags)
	require.Equal(t, cfg, cleaned)
}

func TestStringField_EmptyWhenMissingOrWrongType(t *testing.T) {
	require.Equal(t, "", stringField(map[string]interface{}{}, "missing"))
	require.Equal(t, "", stringField(map[string]interface{}{"k": 5}, "k"))
	require.Equal(t, "v", stringField(map[string]interface{}{"k": "v"}, "k"))
}
