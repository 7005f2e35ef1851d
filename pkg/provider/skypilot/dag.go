// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package skypilot implements the remote-cloud-control-plane provider (spec
// §1 C7, §4.1.3): a single-task DAG posted to /launch, all slow operations
// resolved through the async request-id + /api/get polling protocol.
package skypilot

import (
	"fmt"

	"gopkg.in/yaml.v3"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
)

// taskResources mirrors a SkyPilot task's `resources:` block.
type taskResources struct {
	CPUs         float64 `yaml:"cpus,omitempty"`
	Memory       float64 `yaml:"memory,omitempty"`
	Accelerators string  `yaml:"accelerators,omitempty"`
	Cloud        string  `yaml:"cloud,omitempty"`
	Region       string  `yaml:"region,omitempty"`
	Zone         string  `yaml:"zone,omitempty"`
	DiskSize     float64 `yaml:"disk_size,omitempty"`
	UseSpot      bool    `yaml:"use_spot,omitempty"`
	InstanceType string  `yaml:"instance_type,omitempty"`
}

// task is a single SkyPilot task node in the DAG this provider builds (spec
// §4.1.3 step 1: "a single task whose run, setup, envs, resources ... come
// from ClusterConfig").
type task struct {
	Name      string            `yaml:"name"`
	Resources taskResources     `yaml:"resources"`
	NumNodes  int               `yaml:"num_nodes,omitempty"`
	Envs      map[string]string `yaml:"envs,omitempty"`
	Setup     string            `yaml:"setup,omitempty"`
	Run       string            `yaml:"run"`
}

// buildTaskYAML serializes a single-task DAG for cfg, matching the fields
// SkyPilot's task YAML accepts.
func buildTaskYAML(clusterName string, cfg v1.ClusterConfig) (string, error) {
	accel := cfg.Accelerators
	if accel == "" && cfg.InstanceType != "" {
		accel = cfg.InstanceType
	}

	t := task{
		Name: clusterName,
		Resources: taskResources{
			CPUs:         cfg.CPUs,
			Memory:       cfg.MemoryGB,
			Accelerators: accel,
			Cloud:        cfg.Cloud,
			Region:       cfg.Region,
			Zone:         cfg.Zone,
			DiskSize:     cfg.DiskSizeGB,
			UseSpot:      cfg.UseSpot,
			InstanceType: cfg.InstanceType,
		},
		NumNodes: cfg.NumNodes,
		Envs:     cfg.EnvVars,
		Setup:    cfg.Setup,
		Run:      cfg.Command,
	}

	out, err := yaml.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal skypilot task dag: %w", err)
	}
	return string(out), nil
}
