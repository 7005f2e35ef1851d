// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package store

import (
	"context"
	"path"
	"sort"

	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
)

// Workspace bundles every per-entity Store over one backend, the entry
// point handlers and the dispatcher use to reach persisted state (spec §3
// workspace layout).
type Workspace struct {
	Jobs        *Store[*v1.Job]
	Experiments *Store[*v1.Experiment]
	Datasets    *Store[*v1.Dataset]
	Models      *Store[*v1.Model]
	Tasks       *Store[*v1.Task]
	Templates   *Store[*v1.Template]
	Workflows   *Store[*v1.Workflow]
	WorkflowRuns *Store[*v1.WorkflowRun]

	backend storage.Backend
}

// NewWorkspace builds every per-entity store rooted at backend, matching the
// directory layout in spec §3.
func NewWorkspace(backend storage.Backend) *Workspace {
	return &Workspace{
		backend: backend,
		Jobs: New(backend, "jobs", func(id string) *v1.Job {
			return v1.NewJob(id, "", v1.JobTypeUndefined)
		}),
		Experiments: New(backend, "experiments", func(id string) *v1.Experiment {
			return v1.NewExperiment(id, "")
		}),
		Datasets: New(backend, "datasets", func(id string) *v1.Dataset {
			return v1.NewDataset(id, "")
		}),
		Models: New(backend, "models", func(id string) *v1.Model {
			return v1.NewModel(id, "")
		}),
		Tasks: New(backend, "tasks", func(id string) *v1.Task {
			return v1.NewTask(id, "")
		}),
		Templates: New(backend, "templates", func(id string) *v1.Template {
			return v1.NewTemplate(id, "")
		}),
		Workflows: New(backend, "workflows", func(id string) *v1.Workflow {
			return &v1.Workflow{ID: id}
		}),
		WorkflowRuns: New(backend, "workflow_runs", func(id string) *v1.WorkflowRun {
			return v1.NewWorkflowRun(id, "", "")
		}),
	}
}

// Backend exposes the underlying storage backend for callers that need raw
// path access (plugin artifact discovery, job log tailing).
func (w *Workspace) Backend() storage.Backend { return w.backend }

// JobLogPath returns the storage key for job's log file (spec §3, §4.2:
// "<job_dir>/output_<id>.txt", honoring job_data.output_file_path).
func (w *Workspace) JobLogPath(job *v1.Job) string {
	return path.Join(w.Jobs.Dir(job.ID), job.LogFileName())
}

// Job artifact subdirectory names (spec §3 workspace layout, §4.2).
const (
	SubdirArtifacts   = "artifacts"
	SubdirCheckpoints = "checkpoints"
	SubdirModels      = "models"
	SubdirDatasets    = "datasets"
	SubdirEvalResults = "eval_results"
)

// JobSubdir returns the storage key for one of a job's artifact
// subdirectories, auto-created on first access by the caller's Upload call.
func (w *Workspace) JobSubdir(jobID, subdir string) string {
	return path.Join(w.Jobs.Dir(jobID), subdir)
}

// listJobSubdirFiles lists every file beneath one of a job's artifact
// subdirectories, sorted by key (spec §4.2, §8 round-trip law 3; grounded on
// lab-sdk's Job.get_artifact_paths/get_checkpoint_paths, which both scan
// their directory with storage.ls and sort the result).
func (w *Workspace) listJobSubdirFiles(ctx context.Context, jobID, subdir string) ([]string, error) {
	objs, err := w.backend.ListObjects(ctx, w.JobSubdir(jobID, subdir))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(objs))
	for _, o := range objs {
		paths = append(paths, o.Key)
	}
	sort.Strings(paths)
	return paths, nil
}

// GetArtifactPaths returns every file under jobID's artifacts directory,
// discovered by walking storage rather than trusted from job_data (spec §3
// "Artifacts ... are discovered on read via the store"; §8 S1:
// "get_artifact_paths(job_id) returns [...]"). Grounded on lab-sdk's
// Job.get_artifact_paths, which filters to files only and sorts the result.
func (w *Workspace) GetArtifactPaths(ctx context.Context, jobID string) ([]string, error) {
	return w.listJobSubdirFiles(ctx, jobID, SubdirArtifacts)
}

// GetCheckpointPaths returns every file under jobID's checkpoints directory
// (spec §3, §4.2), grounded on lab-sdk's Job.get_checkpoint_paths.
func (w *Workspace) GetCheckpointPaths(ctx context.Context, jobID string) ([]string, error) {
	return w.listJobSubdirFiles(ctx, jobID, SubdirCheckpoints)
}

// SaveArtifact writes data under jobID's artifacts directory as name and
// returns its storage key, the store-side half of the round-trip law in
// spec §8 ("save_artifact(src) -> get_artifact_paths() contains the
// destination; repeating with the same source and name overwrites").
// Plugin-side artifact authorship itself is lab-sdk's async_save_artifact,
// out of this core's scope (spec §1, §6.2: plugins are opaque executables);
// this is the core-side equivalent a dispatcher-adjacent caller or test uses
// to place a file the way a plugin process would.
func (w *Workspace) SaveArtifact(ctx context.Context, jobID, name string, data []byte) (string, error) {
	dest := path.Join(w.JobSubdir(jobID, SubdirArtifacts), name)
	if err := w.backend.UploadBytes(ctx, dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// ProvenancePath returns the storage key for a model's companion
// _tlab_provenance.json (spec §3).
func (w *Workspace) ProvenancePath(modelID string) string {
	return path.Join(w.Models.Dir(modelID), "_tlab_provenance.json")
}
