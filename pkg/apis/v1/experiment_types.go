// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package v1

// Experiment owns a set of jobs and a config blob. Created on first use;
// destroys all owned jobs on delete (spec §3).
type Experiment struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Config          map[string]interface{} `json:"config"`
	DBExperimentID  *string                `json:"db_experiment_id,omitempty"`
}

// NewExperiment builds a default Experiment document.
func NewExperiment(id, name string) *Experiment {
	return &Experiment{ID: id, Name: name, Config: map[string]interface{}{}}
}

// JobIndex is the per-experiment jobs.json cache (spec §4.2): a type→ids map
// plus a snapshot of non-live job documents.
type JobIndex struct {
	Index      map[JobType][]string `json:"index"`
	CachedJobs map[string]*Job      `json:"cached_jobs"`
}

// NewJobIndex builds an empty cache document.
func NewJobIndex() *JobIndex {
	return &JobIndex{
		Index:      map[JobType][]string{},
		CachedJobs: map[string]*Job{},
	}
}

// AddToIndex records id under jobType if not already present.
func (idx *JobIndex) AddToIndex(jobType JobType, id string) {
	for _, existing := range idx.Index[jobType] {
		if existing == id {
			return
		}
	}
	idx.Index[jobType] = append(idx.Index[jobType], id)
}

// RemoveFromCache drops id's cached snapshot, used when a cached entry is
// found to be live-only (spec §4.2 step 2a).
func (idx *JobIndex) RemoveFromCache(id string) {
	delete(idx.CachedJobs, id)
}
