// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package slurm implements the SLURM provider (spec §1 C6, §4.1.2): REST or
// SSH mode, sbatch script synthesis, and sinfo/squeue/scancel CLI parsing.
package slurm

import (
	"fmt"
	"sort"
	"strings"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// buildSbatchScript synthesizes a sbatch script: header, env exports, the
// optional setup block, then the command (spec §4.1.2).
func buildSbatchScript(jobName string, cfg v1.ClusterConfig) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", jobName)
	nodes := cfg.NumNodes
	if nodes <= 0 {
		nodes = 1
	}
	fmt.Fprintf(&b, "#SBATCH --nodes=%d\n", nodes)
	if cfg.IdleMinutesToAutostop > 0 {
		fmt.Fprintf(&b, "#SBATCH --time=%d\n", cfg.IdleMinutesToAutostop)
	}
	b.WriteString("\n")

	keys := make([]string, 0, len(cfg.EnvVars))
	for k := range cfg.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%q\n", k, cfg.EnvVars[k])
	}
	if len(keys) > 0 {
		b.WriteString("\n")
	}

	if cfg.Setup != "" {
		b.WriteString(cfg.Setup)
		b.WriteString("\n\n")
	}
	b.WriteString(cfg.Command)
	b.WriteString("\n")
	return b.String()
}

// parseSubmittedJobID extracts the numeric job id from sbatch's
// "Submitted batch job <id>" output (spec §4.1.2).
func parseSubmittedJobID(sbatchOutput string) (string, error) {
	const marker = "Submitted batch job "
	idx := strings.Index(sbatchOutput, marker)
	if idx < 0 {
		return "", fmt.Errorf("unexpected sbatch output: %s", sbatchOutput)
	}
	rest := strings.TrimSpace(sbatchOutput[idx+len(marker):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", fmt.Errorf("unexpected sbatch output: %s", sbatchOutput)
	}
	return fields[0], nil
}
