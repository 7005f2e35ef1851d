// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package skypilot

import (
	"regexp"
	"strconv"
	"strings"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// resourcesStrFullPattern matches SkyPilot's human-readable resources
// descriptor: "<N>x(gpus=<TYPE>:<K>, cpus=<C>, mem=<M>, ..., disk=<D>)"
// (spec §4.1.3 step 4).
var resourcesStrFullPattern = regexp.MustCompile(`^\s*(\d+)x\((.*)\)\s*$`)

// parseResourcesStrFull parses the resources_str_full grammar into a
// ResourceInfo, tolerating missing fields and extra fields the grammar
// doesn't name.
func parseResourcesStrFull(s string) v1.ResourceInfo {
	var info v1.ResourceInfo

	m := resourcesStrFullPattern.FindStringSubmatch(s)
	if m == nil {
		return info
	}
	multiplier, _ := strconv.Atoi(m[1])
	if multiplier <= 0 {
		multiplier = 1
	}
	info.NumNodes = multiplier

	for _, field := range strings.Split(m[2], ",") {
		field = strings.TrimSpace(field)
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "gpus":
			if gtype, count, ok := parseGPUSpec(val); ok {
				info.GPUs = append(info.GPUs, v1.GPUCount{Type: gtype, Count: count * multiplier})
			}
		case "cpus":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				info.CPUs = f * float64(multiplier)
			}
		case "mem":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				info.MemoryGB = f * float64(multiplier)
			}
		case "disk":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				info.DiskGB = f * float64(multiplier)
			}
		}
	}
	return info
}

// parseGPUSpec parses "<TYPE>:<K>" into a type and count.
func parseGPUSpec(s string) (string, int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}

func statusStringToClusterState(s string) v1.ClusterState {
	switch strings.ToUpper(s) {
	case "UP":
		return v1.ClusterUp
	case "INIT":
		return v1.ClusterInit
	case "STOPPED":
		return v1.ClusterStopped
	case "DOWN":
		return v1.ClusterDown
	case "FAILED":
		return v1.ClusterFailed
	default:
		return v1.ClusterUnknown
	}
}

func jobStatusStringToJobState(s string) v1.JobState {
	switch strings.ToUpper(s) {
	case "PENDING", "SETTING_UP":
		return v1.ProviderJobPending
	case "RUNNING":
		return v1.ProviderJobRunning
	case "SUCCEEDED":
		return v1.ProviderJobCompleted
	case "FAILED", "FAILED_SETUP":
		return v1.ProviderJobFailed
	case "CANCELLED":
		return v1.ProviderJobCancelled
	default:
		return v1.ProviderJobUnknown
	}
}
