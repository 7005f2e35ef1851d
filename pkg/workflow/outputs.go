// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package workflow

import (
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// extractPreviousJobOutputs computes the output values a completed job
// exposes to its downstream workflow node (spec §4.4.1): GENERATE exposes
// dataset_name, TRAIN exposes model_name and (if present) adaptor_name,
// every other type exposes nothing.
func extractPreviousJobOutputs(job *v1.Job) map[string]string {
	switch job.Type {
	case v1.JobTypeGenerate:
		datasetID := job.JobData.GetString(v1.JobDataDatasetID)
		if datasetID == "" {
			if cfg := job.JobData.GetMap(v1.JobDataConfig); cfg != nil {
				if v, ok := cfg["dataset_id"].(string); ok {
					datasetID = v
				}
			}
		}
		if datasetID == "" {
			return map[string]string{}
		}
		return map[string]string{"dataset_name": slug(datasetID)}

	case v1.JobTypeTrain:
		cfg := job.JobData.GetMap(v1.JobDataConfig)
		if cfg == nil {
			return map[string]string{}
		}
		out := map[string]string{}
		if v, ok := cfg["model_name"].(string); ok {
			out["model_name"] = v
		}
		if v, ok := cfg["adaptor_name"].(string); ok && v != "" {
			out["adaptor_name"] = v
		}
		return out

	default:
		return map[string]string{}
	}
}

// slug reduces id to a safe dataset-name token: ASCII letters, digits, '-'
// and '_' are kept and every other byte becomes '_'. Unlike the resource
// store's SanitizeID, it also replaces '.' (spec §4.4.1 "slug(...)").
func slug(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// trainIOKeys are the input/output slots a TRAIN task always declares
// (spec §4.4.2: "For TRAIN tasks, always add adaptor_name to outputs").
var trainIOKeys = []string{"model_name", "adaptor_name"}

// generateIOKeys are the slots a GENERATE task's inputs/outputs may carry.
var generateIOKeys = []string{"dataset_name"}

// knownIOKeys returns the set of input/output keys considered "declared"
// for a task of the given job type, beyond whatever keys already literally
// appear in the task's inputs/outputs documents (spec §4.4.2: "or is a
// known IO key for the task type").
func knownIOKeys(jobType v1.JobType) []string {
	switch jobType {
	case v1.JobTypeTrain:
		return trainIOKeys
	case v1.JobTypeGenerate:
		return generateIOKeys
	default:
		return nil
	}
}
