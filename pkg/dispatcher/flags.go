// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// buildCtx carries everything a per-type flag builder needs: the job, its
// decoded config, the job's local run directory, and the input file path
// already written by the common preflight (spec §4.3 per-type flag
// synthesis table).
type buildCtx struct {
	job            *v1.Job
	cfg            map[string]interface{}
	jobDir         string
	inputFilePath  string
	experimentName string
}

// evalFlags builds the EVAL row of the per-type flag table.
func evalFlags(b buildCtx) []string {
	flags := scriptParametersFlags(b.cfg)
	flags = append(flags,
		"--experiment_name", b.experimentName,
		"--eval_name", stringField(b.cfg, "eval_name"),
		"--input_file", b.inputFilePath,
		"--model_name", stringField(b.cfg, "model_name"),
		"--model_path", stringField(b.cfg, "model_path"),
		"--model_architecture", stringField(b.cfg, "model_architecture"),
		"--model_adapter", stringField(b.cfg, "model_adapter"),
		"--job_id", b.job.ID,
	)
	return flags
}

// generateFlags builds the GENERATE row: identical to EVAL but with
// --generation_name in place of --eval_name (spec §4.3).
func generateFlags(b buildCtx) []string {
	flags := scriptParametersFlags(b.cfg)
	flags = append(flags,
		"--experiment_name", b.experimentName,
		"--generation_name", stringField(b.cfg, "generation_name"),
		"--input_file", b.inputFilePath,
		"--model_name", stringField(b.cfg, "model_name"),
		"--model_path", stringField(b.cfg, "model_path"),
		"--model_architecture", stringField(b.cfg, "model_architecture"),
		"--model_adapter", stringField(b.cfg, "model_adapter"),
		"--job_id", b.job.ID,
	)
	return flags
}

// exportOutputModelID computes "<input_model>-<ts>[-<qtype>][.gguf]" (spec
// §4.3 EXPORT row).
func exportOutputModelID(cfg map[string]interface{}, now time.Time) string {
	inputModel := stringField(cfg, "input_model")
	id := fmt.Sprintf("%s-%d", inputModel, now.Unix())
	if qtype := stringField(cfg, "q_type"); qtype != "" {
		id += "-" + qtype
	}
	if stringField(cfg, "output_format") == "gguf" {
		id += ".gguf"
	}
	return id
}

// exportFlags builds the EXPORT row: the output model id, the model
// resource dir the caller has already created, then every plugin param.
func exportFlags(b buildCtx, outputModelID, outputDir string) []string {
	flags := []string{
		"--job_id", b.job.ID,
		"--model_name", stringField(b.cfg, "model_name"),
		"--model_path", stringField(b.cfg, "model_path"),
		"--model_architecture", stringField(b.cfg, "model_architecture"),
		"--output_dir", outputDir,
		"--output_model_id", outputModelID,
	}
	flags = append(flags, scriptParametersFlags(b.cfg)...)
	return flags
}

// diffusionImageFields are the base64-carrying config keys that get
// materialized to files and replaced with *_path flags (spec §4.3
// DIFFUSION row).
var diffusionImageFields = map[string]string{
	"input_image": "input_image_path",
	"mask_image":  "mask_image_path",
}

// materializeDiffusionImages decodes any base64 input_image/mask_image
// fields in cfg into files under jobDir and returns the flags to pass
// instead, plus a cleaned copy of cfg with the base64 keys removed (spec
// §4.3: "clean up base64 keys from DB copy of job_data.config").
func materializeDiffusionImages(cfg map[string]interface{}, jobDir string) (flags []string, cleaned map[string]interface{}, err error) {
	cleaned = make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		cleaned[k] = v
	}
	for field, pathKey := range diffusionImageFields {
		raw, ok := cfg[field].(string)
		if !ok || raw == "" {
			continue
		}
		data, decodeErr := base64.StdEncoding.DecodeString(raw)
		if decodeErr != nil {
			return nil, nil, decodeErr
		}
		filePath := filepath.Join(jobDir, field+".png")
		if writeErr := os.WriteFile(filePath, data, 0o644); writeErr != nil {
			return nil, nil, writeErr
		}
		flags = append(flags, "--"+pathKey, filePath)
		delete(cleaned, field)
	}
	return flags, cleaned, nil
}

// diffusionFlags builds the DIFFUSION row: image flags first, then every
// remaining key as --k v.
func diffusionFlags(b buildCtx, imageFlags []string, cleaned map[string]interface{}) []string {
	flags := append([]string{}, imageFlags...)
	for k, v := range cleaned {
		if k == "plugin_name" {
			continue
		}
		flags = append(flags, "--"+k, flagValue(v))
	}
	return flags
}

// trainFlags builds the LoRA / pretraining / embedding row: just the
// input file and experiment name (spec §4.3).
func trainFlags(b buildCtx) []string {
	return []string{"--input_file", b.inputFilePath, "--experiment_name", b.experimentName}
}

func stringField(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}
