// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package v1

// DatasetData is the json_data payload of a Dataset (spec §3).
type DatasetData struct {
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Size        int64    `json:"size"`
	SampleCount int      `json:"sample_count"`
	Files       []string `json:"files"`
	Generated   bool     `json:"generated"`
}

// Dataset is a uniform-shape resource: id, name, json_data.
type Dataset struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	JSONData DatasetData `json:"json_data"`
}

// NewDataset builds a default Dataset document.
func NewDataset(id, name string) *Dataset { return &Dataset{ID: id, Name: name} }

// ModelData is the json_data payload of a Model (spec §3).
type ModelData struct {
	UniqueID        string `json:"uniqueID"`
	Architecture    string `json:"architecture"`
	PipelineTag     string `json:"pipeline_tag"`
	HuggingfaceRepo string `json:"huggingface_repo"`
	ParentModel     string `json:"parent_model"`
	Description     string `json:"description"`
	Source          string `json:"source"`
}

// Model is a uniform-shape resource for a generated or imported model.
type Model struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JSONData ModelData `json:"json_data"`
}

// NewModel builds a default Model document.
func NewModel(id, name string) *Model { return &Model{ID: id, Name: name} }

// ModelProvenance is the companion _tlab_provenance.json written alongside a
// generated model (spec §3). The dispatcher does not auto-populate its
// input fields (see SPEC_FULL.md Open Question 5) — plugins fill them in.
type ModelProvenance struct {
	ModelName      string                 `json:"model_name"`
	Architecture   string                 `json:"architecture"`
	JobID          string                 `json:"job_id"`
	InputModel     string                 `json:"input_model"`
	Dataset        string                 `json:"dataset"`
	AdaptorName    string                 `json:"adaptor_name"`
	Parameters     map[string]interface{} `json:"parameters"`
	StartTime      string                 `json:"start_time"`
	EndTime        string                 `json:"end_time"`
	MD5Checksums   []string               `json:"md5_checksums"`
}

// Task is a uniform-shape resource describing a reusable workflow step
// configuration. json_data is left open since task shapes vary by type.
type Task struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	JSONData map[string]interface{} `json:"json_data"`
}

// NewTask builds a default Task document.
func NewTask(id, name string) *Task {
	return &Task{ID: id, Name: name, JSONData: map[string]interface{}{}}
}

// Template is a uniform-shape resource describing a reusable job
// configuration preset.
type Template struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	JSONData map[string]interface{} `json:"json_data"`
}

// NewTemplate builds a default Template document.
func NewTemplate(id, name string) *Template {
	return &Template{ID: id, Name: name, JSONData: map[string]interface{}{}}
}
