// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package workflow

import (
	"encoding/json"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// prepareNextTaskIO merges previousOutputs into task's declared
// inputs/outputs, overwriting only keys that already exist in the
// document or are a known IO key for jobType; it never introduces keys the
// consumer never declared (spec §4.4.2 "partial previous outputs
// propagate only where the consumer declared a slot"). TRAIN tasks always
// gain an adaptor_name output key if absent (spec §4.4.2).
func prepareNextTaskIO(task *v1.WorkflowNode, jobType v1.JobType, previousOutputs map[string]string) (inputsJSON, outputsJSON string, err error) {
	inputs, err := decodeIODoc(task.Inputs)
	if err != nil {
		return "", "", err
	}
	outputs, err := decodeIODoc(task.Outputs)
	if err != nil {
		return "", "", err
	}

	known := knownIOKeysSet(jobType)
	for key, value := range previousOutputs {
		if _, declared := inputs[key]; declared || known[key] {
			inputs[key] = value
		}
		if _, declared := outputs[key]; declared || known[key] {
			outputs[key] = value
		}
	}

	if jobType == v1.JobTypeTrain {
		if _, ok := outputs["adaptor_name"]; !ok {
			outputs["adaptor_name"] = ""
		}
	}

	inputsJSON, err = encodeIODoc(inputs)
	if err != nil {
		return "", "", err
	}
	outputsJSON, err = encodeIODoc(outputs)
	if err != nil {
		return "", "", err
	}
	return inputsJSON, outputsJSON, nil
}

func knownIOKeysSet(jobType v1.JobType) map[string]bool {
	set := map[string]bool{}
	for _, k := range knownIOKeys(jobType) {
		set[k] = true
	}
	return set
}

// decodeIODoc parses a node's inputs/outputs JSON string, treating a blank
// string as an empty object (spec §4.4.2 "empty object if blank").
func decodeIODoc(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func encodeIODoc(doc map[string]interface{}) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
