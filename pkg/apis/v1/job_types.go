// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package v1

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

// JobType discriminates the kind of work a Job performs.
type JobType string

const (
	JobNotStarted JobStatus = "NOT_STARTED"
	JobQueued     JobStatus = "QUEUED"
	JobLaunching  JobStatus = "LAUNCHING"
	JobRunning    JobStatus = "RUNNING"
	JobComplete   JobStatus = "COMPLETE"
	JobFailed     JobStatus = "FAILED"
	JobStopped    JobStatus = "STOPPED"
	JobCancelled  JobStatus = "CANCELLED"
	JobDeleted    JobStatus = "DELETED"

	JobTypeTrain     JobType = "TRAIN"
	JobTypeEval      JobType = "EVAL"
	JobTypeGenerate  JobType = "GENERATE"
	JobTypeExport    JobType = "EXPORT"
	JobTypeDiffusion JobType = "DIFFUSION"
	JobTypeRemote    JobType = "REMOTE"
	JobTypeTask      JobType = "TASK"
	JobTypeUndefined JobType = "UNDEFINED"
)

// Well-known job_data keys (spec §3).
const (
	JobDataConfig               = "config"
	JobDataParameters            = "parameters"
	JobDataStartTime             = "start_time"
	JobDataEndTime                = "end_time"
	JobDataCompletionStatus       = "completion_status"
	JobDataCompletionDetails      = "completion_details"
	JobDataErrorMsg               = "error_msg"
	JobDataStop                   = "stop"
	JobDataOutputFilePath         = "output_file_path"
	JobDataTensorboardOutputDir   = "tensorboard_output_dir"
	JobDataArtifacts              = "artifacts"
	JobDataCheckpoints            = "checkpoints"
	JobDataLatestCheckpoint       = "latest_checkpoint"
	JobDataEvalResults            = "eval_results"
	JobDataModels                 = "models"
	JobDataGeneratedDatasets      = "generated_datasets"
	JobDataDatasetID              = "dataset_id"
	JobDataScore                  = "score"
	JobDataAdditionalOutputPath   = "additional_output_path"
	JobDataPlotDataPath           = "plot_data_path"
	JobDataWandbRunURL            = "wandb_run_url"
	JobDataProviderID             = "provider_id"
	JobDataProviderName           = "provider_name"
	JobDataClusterName            = "cluster_name"
	JobDataProviderJobID          = "provider_job_id"
	JobDataProviderJobIDs         = "provider_job_ids"
	JobDataInteractiveType        = "interactive_type"
	JobDataActiveJobs             = "active_jobs"
	JobDataSweepConfig            = "sweep_config"
	JobDataSweepMetric            = "sweep_metric"
	JobDataSweepLowerIsBetter     = "sweep_lower_is_better"
	JobDataSweepResults           = "sweep_results"
)

// JobData is the open dict carried by a Job (spec §3). It is stored as a
// plain JSON object so plugins can add keys this core never needs to know
// about, while well-known keys get typed accessors below.
type JobData map[string]interface{}

// GetString returns the string at key, or "" if absent or of another type.
func (d JobData) GetString(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// SetString sets key to a string value.
func (d JobData) SetString(key, value string) { d[key] = value }

// GetBool returns the bool at key, defaulting to false.
func (d JobData) GetBool(key string) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return false
}

// SetBool sets key to a bool value.
func (d JobData) SetBool(key string, value bool) { d[key] = value }

// GetStringSlice returns the string slice at key, tolerating a JSON-decoded
// []interface{} since job_data round-trips through encoding/json.
func (d JobData) GetStringSlice(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AppendString appends value to the string slice stored at key.
func (d JobData) AppendString(key, value string) {
	d[key] = append(d.GetStringSlice(key), value)
}

// GetMap returns the nested object at key as a map, or nil.
func (d JobData) GetMap(key string) map[string]interface{} {
	if v, ok := d[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// IsStop reports whether the plugin has been asked to stop (job_data.stop).
func (d JobData) IsStop() bool { return d.GetBool(JobDataStop) }

// Job is a single unit of work routed through a provider (spec §3).
type Job struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	Type         JobType   `json:"type"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	JobData      JobData   `json:"job_data"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob builds a default Job document for the resource store's create/get
// path, matching the shape returned when index.json is first written.
func NewJob(id, experimentID string, jobType JobType) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           id,
		ExperimentID: experimentID,
		Type:         jobType,
		Status:       JobNotStarted,
		Progress:     0,
		JobData:      JobData{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the job has reached a status from which it will
// never transition again (spec §3 invariant: DELETED is terminal; the
// lifecycle terminals COMPLETE/FAILED/STOPPED/CANCELLED only move to DELETED).
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobComplete, JobFailed, JobStopped, JobCancelled, JobDeleted:
		return true
	default:
		return false
	}
}

// IsLive reports whether the job's cached copy must never be trusted and a
// live read is required instead (spec §4.2 jobs.json cache invariant).
func (j *Job) IsLive() bool {
	switch j.Status {
	case JobRunning, JobLaunching, JobNotStarted:
		return true
	default:
		return false
	}
}

// LogFileName returns the default log file name for this job, honoring an
// output_file_path override in job_data when present (spec §3, §4.2).
func (j *Job) LogFileName() string {
	if override := j.JobData.GetString(JobDataOutputFilePath); override != "" {
		return override
	}
	return "output_" + j.ID + ".txt"
}

// PluginName extracts the plugin name from the job, which lives at the top
// level of job_data for EVAL/GENERATE/DIFFUSION and nested under
// job_data.config.plugin_name otherwise (spec §4.3 common preflight).
func (j *Job) PluginName() string {
	switch j.Type {
	case JobTypeEval, JobTypeGenerate, JobTypeDiffusion:
		return j.JobData.GetString("plugin_name")
	default:
		cfg := j.JobData.GetMap(JobDataConfig)
		if cfg == nil {
			return ""
		}
		if name, ok := cfg["plugin_name"].(string); ok {
			return name
		}
		return ""
	}
}
