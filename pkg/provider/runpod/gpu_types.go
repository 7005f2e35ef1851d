// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package runpod implements the single-node GPU/CPU pod provider (spec §1
// C8, §4.1.4), grounded on the original Python provider's REST shape.
package runpod

import (
	"strconv"
	"strings"
)

// staticGPUMap is the built-in accelerator-string to Runpod GPU type name
// table (spec §4.1.4 "static table with on-line override from
// GET /gpu-types").
var staticGPUMap = map[string]string{
	"RTX3090":   "NVIDIA GeForce RTX 3090",
	"RTX4090":   "NVIDIA GeForce RTX 4090",
	"RTX5090":   "NVIDIA GeForce RTX 5090",
	"A100":      "NVIDIA A100-SXM4-80GB",
	"A100-80GB": "NVIDIA A100-SXM4-80GB",
	"A100-PCIE": "NVIDIA A100 80GB PCIe",
	"A40":       "NVIDIA A40",
	"A6000":     "NVIDIA RTX A6000",
	"L40":       "NVIDIA L40",
	"L40S":      "NVIDIA L40S",
	"L4":        "NVIDIA L4",
	"H100":      "NVIDIA H100 80GB HBM3",
	"H100-PCIE": "NVIDIA H100 PCIe",
	"H200":      "NVIDIA H200",
	"V100":      "Tesla V100-PCIE-16GB",
	"T4":        "Tesla T4",
}

// gpuType is one entry of GET /gpu-types.
type gpuType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// resolveGPUType maps an accelerator spec's type component ("A100" from
// "A100:2") to a Runpod GPU type id, preferring a live /gpu-types match
// over the static table (spec §4.1.4).
func resolveGPUType(gpuTypeToken string, live []gpuType) string {
	mapped := gpuTypeToken
	if full, ok := staticGPUMap[strings.ToUpper(gpuTypeToken)]; ok {
		mapped = full
	}
	for _, gt := range live {
		if gt.ID == mapped || gt.Name == mapped {
			return gt.ID
		}
	}
	return mapped
}

// parseAccelerators splits "TYPE:N" into the type token and count, N
// defaulting to 1.
func parseAccelerators(accelerators string) (string, int) {
	parts := strings.SplitN(accelerators, ":", 2)
	gpuType := strings.TrimSpace(parts[0])
	count := 1
	if len(parts) == 2 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n > 0 {
			count = n
		}
	}
	return gpuType, count
}
