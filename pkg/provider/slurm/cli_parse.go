// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package slurm

import (
	"strconv"
	"strings"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// parseSinfoNodes parses `sinfo -h -o '%P %G %c %m %D'` output into
// ResourceInfo, the CLI-table parsing idiom the teacher's slurm-exporter
// uses for squeue/sinfo (spec §4.1.2). Fields: partition, gres, cpus,
// memory, node-count. Memory below 100 is treated as already GB, otherwise
// as MB converted to GB (spec §4.1.2 "memory heuristic").
func parseSinfoNodes(output string) v1.ResourceInfo {
	var info v1.ResourceInfo
	gpuCounts := map[string]int{}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		gres := fields[1]
		cpus, _ := strconv.ParseFloat(fields[2], 64)
		memRaw, _ := strconv.ParseFloat(fields[3], 64)
		nodeCount, _ := strconv.Atoi(fields[4])

		memGB := memRaw
		if memRaw >= 100 {
			memGB = memRaw / 1024
		}

		info.CPUs += cpus * float64(nodeCount)
		info.MemoryGB += memGB * float64(nodeCount)
		info.NumNodes += nodeCount

		if gtype, count, ok := parseGres(gres); ok {
			gpuCounts[gtype] += count * nodeCount
		}
	}

	for gtype, count := range gpuCounts {
		info.GPUs = append(info.GPUs, v1.GPUCount{Type: gtype, Count: count})
	}
	return info
}

// parseGres extracts a "gpu:<type>:<n>" or "gpu:<n>" GRES string into a type
// and count.
func parseGres(gres string) (string, int, bool) {
	idx := strings.Index(gres, "gpu:")
	if idx < 0 {
		return "", 0, false
	}
	rest := gres[idx+len("gpu:"):]
	for i, c := range rest {
		if c == ',' || c == ' ' {
			rest = rest[:i]
			break
		}
	}
	parts := strings.Split(rest, ":")
	switch len(parts) {
	case 1:
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			return "", 0, false
		}
		return "gpu", n, true
	case 2:
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", 0, false
		}
		return parts[0], n, true
	default:
		return "", 0, false
	}
}

// squeueEntry is one row of `squeue -u <user> -o "%i %j %T %S %e"`.
type squeueEntry struct {
	JobID     string
	Name      string
	State     string
	StartTime string
	EndTime   string
}

func parseSqueue(output string) []squeueEntry {
	var entries []squeueEntry
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		entries = append(entries, squeueEntry{
			JobID:     fields[0],
			Name:      fields[1],
			State:     fields[2],
			StartTime: fields[3],
			EndTime:   fields[4],
		})
	}
	return entries
}

// slurmStateToJobState maps SLURM job states to the normalized JobState
// (spec §4.1).
func slurmStateToJobState(state string) v1.JobState {
	switch strings.ToUpper(state) {
	case "PENDING", "PD":
		return v1.ProviderJobPending
	case "RUNNING", "R":
		return v1.ProviderJobRunning
	case "COMPLETED", "CD":
		return v1.ProviderJobCompleted
	case "FAILED", "F", "NODE_FAIL", "TIMEOUT":
		return v1.ProviderJobFailed
	case "CANCELLED", "CA":
		return v1.ProviderJobCancelled
	default:
		return v1.ProviderJobUnknown
	}
}
