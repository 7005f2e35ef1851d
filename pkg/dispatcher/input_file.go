// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"encoding/json"
	"os"
	"path/filepath"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// nestedJSONConfigFields lists config keys whose value is itself a
// JSON-encoded string that needs decoding into an object before the input
// file is written (spec §4.3 common preflight: "decode any nested JSON
// fields inside experiment.config").
var nestedJSONConfigFields = []string{"inferenceParams", "evaluations"}

// writeInputFile builds the {experiment, config} document a plugin reads
// back via --input_file and writes it under jobDir/temp (spec §4.3 common
// preflight). experiment.config carries the experiment's own config map and
// config carries job_data.config; the two are not merged. In both, any
// nested JSON-string fields listed in nestedJSONConfigFields are decoded
// into real objects first.
func writeInputFile(jobDir string, experimentName string, experimentConfig map[string]interface{}, jobConfig map[string]interface{}) (string, error) {
	decoded := decodeNestedJSONFields(jobConfig)

	doc := map[string]interface{}{
		"experiment": map[string]interface{}{
			"name":   experimentName,
			"config": decodeNestedJSONFields(experimentConfig),
		},
		"config": decoded,
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	tempDir := filepath.Join(jobDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(tempDir, "input_file.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// decodeNestedJSONFields returns a shallow copy of cfg with every key in
// nestedJSONConfigFields that holds a JSON-encoded string decoded into its
// object form, leaving already-decoded or absent fields untouched.
func decodeNestedJSONFields(cfg map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	for _, field := range nestedJSONConfigFields {
		raw, ok := out[field].(string)
		if !ok || raw == "" {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			out[field] = decoded
		}
	}
	return out
}

// scriptParametersFlags expands job_data.config.script_parameters into
// `--k v` shell flags, JSON-encoding any list-valued parameter (spec §4.3
// per-type flag synthesis table, EVAL row).
func scriptParametersFlags(cfg map[string]interface{}) []string {
	params, _ := cfg["script_parameters"].(map[string]interface{})
	if params == nil {
		return nil
	}
	var flags []string
	for k, v := range params {
		flags = append(flags, "--"+k, flagValue(v))
	}
	return flags
}

// flagValue renders v as a shell-flag argument, JSON-encoding list values
// (spec §4.3: "lists JSON-encoded").
func flagValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// jobCreatedOrder sorts jobs by CreatedAt ascending, the "oldest QUEUED
// job" ordering rule (spec §4.3 step 2); this core uses uuid job ids (see
// pkg/apis/v1/ids.go) rather than the source's auto-incrementing numeric
// ids, so CreatedAt is the faithful substitute for "lexicographic by
// numeric id".
func jobCreatedOrder(jobs []*v1.Job) []*v1.Job {
	out := make([]*v1.Job, len(jobs))
	copy(out, jobs)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
