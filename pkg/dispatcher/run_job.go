// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package dispatcher implements the single-flight job dispatcher and
// run_job command synthesis (spec §1 C10, §4.3).
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	"github.com/transformerlab/orchestrator-core/internal/config"
	"github.com/transformerlab/orchestrator-core/internal/logger"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
	"github.com/transformerlab/orchestrator-core/pkg/jobindex"
	"github.com/transformerlab/orchestrator-core/pkg/provider"
	"github.com/transformerlab/orchestrator-core/pkg/provider/local"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
	"github.com/transformerlab/orchestrator-core/pkg/store"
)

// SecretLookup resolves a team's configured secrets (HF/WANDB/OpenAI/...)
// by name, supplied by the caller since secret storage is out of this
// core's scope (spec §1 "supplies a map of secret name -> value").
type SecretLookup func(ctx context.Context, teamID string) (map[string]string, error)

// JobDetails is the subset of request context run_job needs beyond the Job
// document itself: the owning experiment's name/config and the team whose
// secrets to inject (spec §4.3 run_job signature: "job_id, job_config,
// experiment_name, job_details").
type JobDetails struct {
	ExperimentName   string
	ExperimentConfig map[string]interface{}
	TeamID           string
	OrgID            string
	UserID           string
}

// Dispatcher drains the oldest QUEUED job across every organization and
// launches it through the local provider (spec §1 C10, §4.3). One
// Dispatcher per process (spec §1 non-goals: "exactly one dispatcher per
// process").
type Dispatcher struct {
	Registry *store.Registry
	Cfg      *config.Config
	Secrets  SecretLookup
	Router   *provider.Router // used only for REMOTE jobs (see DESIGN.md)

	jobIndexesMu sync.Mutex
	jobIndexes   map[string]*jobindex.Manager
}

// New builds a Dispatcher. secrets and router may be nil (no team secret
// store configured / no remote-provider routing wired, respectively).
func New(registry *store.Registry, cfg *config.Config, secrets SecretLookup, router *provider.Router) *Dispatcher {
	return &Dispatcher{
		Registry:   registry,
		Cfg:        cfg,
		Secrets:    secrets,
		Router:     router,
		jobIndexes: map[string]*jobindex.Manager{},
	}
}

func (d *Dispatcher) jobIndexFor(orgID string) *jobindex.Manager {
	d.jobIndexesMu.Lock()
	defer d.jobIndexesMu.Unlock()
	if m, ok := d.jobIndexes[orgID]; ok {
		return m
	}
	ws, err := d.Registry.WorkspaceFor(orgID)
	if err != nil {
		return nil
	}
	m := jobindex.NewManager(ws, d.Cfg.CacheRebuildInterval, d.Cfg.CacheRebuildBackoff)
	d.jobIndexes[orgID] = m
	return m
}

// StartNextJob implements the scheduler's single-flight invariant (spec
// §4.3 steps 1-4, §8 invariant 4): if any job anywhere is RUNNING, it does
// nothing; otherwise it picks the oldest QUEUED job across all orgs, scopes
// an OrgContext to it, and runs it.
func (d *Dispatcher) StartNextJob(ctx context.Context) (map[string]interface{}, error) {
	orgs, err := d.Registry.ListOrgs(ctx)
	if err != nil {
		return nil, err
	}

	for _, orgID := range orgs {
		running, err := d.anyRunning(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if running {
			return map[string]interface{}{"message": "A job is already running"}, nil
		}
	}

	var (
		picked   *v1.Job
		pickedOrg string
	)
	for _, orgID := range orgs {
		ws, err := d.Registry.WorkspaceFor(orgID)
		if err != nil {
			continue
		}
		jobs, err := d.listQueued(ctx, ws)
		if err != nil {
			continue
		}
		for _, job := range jobCreatedOrder(jobs) {
			if picked == nil || job.CreatedAt.Before(picked.CreatedAt) {
				picked = job
				pickedOrg = orgID
			}
			break // jobCreatedOrder already gives the oldest first per org
		}
	}

	if picked == nil {
		return map[string]interface{}{"message": "no queued jobs"}, nil
	}

	details := JobDetails{OrgID: pickedOrg}
	err = d.runWithOrgContext(ctx, pickedOrg, picked.ID, details)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "running", "job_id": picked.ID}, nil
}

// runWithOrgContext enters orgID's scope, invokes RunJob, and clears the
// scope even on failure (spec §4.3 step 3-4: "try/finally that clears the
// org context even on failure"; Go's explicit-context redesign, per
// SPEC_FULL.md §9, makes this just a deferred no-op since the scope never
// escapes this call).
func (d *Dispatcher) runWithOrgContext(ctx context.Context, orgID, jobID string, details JobDetails) (err error) {
	ws, wsErr := d.Registry.WorkspaceFor(orgID)
	if wsErr != nil {
		return wsErr
	}
	idx := d.jobIndexFor(orgID)
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorS(fmt.Errorf("%v", r), "run_job panicked", "job_id", jobID)
		}
	}()
	return d.RunJob(ctx, ws, idx, jobID, details)
}

func (d *Dispatcher) anyRunning(ctx context.Context, orgID string) (bool, error) {
	ws, err := d.Registry.WorkspaceFor(orgID)
	if err != nil {
		return false, nil
	}
	objects, err := ws.Backend().ListObjects(ctx, "jobs")
	if err != nil {
		return false, nil
	}
	seen := map[string]struct{}{}
	for _, obj := range objects {
		id := jobIDFromIndexKey(obj.Key)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		job, err := ws.Jobs.Get(ctx, id)
		if err != nil {
			continue
		}
		if job.Status == v1.JobRunning {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) listQueued(ctx context.Context, ws *store.Workspace) ([]*v1.Job, error) {
	objects, err := ws.Backend().ListObjects(ctx, "jobs")
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var queued []*v1.Job
	for _, obj := range objects {
		id := jobIDFromIndexKey(obj.Key)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		job, err := ws.Jobs.Get(ctx, id)
		if err != nil || job.Status != v1.JobQueued {
			continue
		}
		queued = append(queued, job)
	}
	return queued, nil
}

func jobIDFromIndexKey(key string) string {
	const suffix = "/index.json"
	if len(key) <= len(suffix) || key[len(key)-len(suffix):] != suffix {
		return ""
	}
	rel := key[:len(key)-len(suffix)]
	if idx := lastSlash(rel); idx >= 0 {
		return rel[idx+1:]
	}
	return rel
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// RunJob dispatches on job.Type and launches it through the local provider
// (spec §4.3). It never returns an error for an expected, job-local failure
// (missing plugin, launch failure): those mark the job FAILED and return
// nil, matching "any exception during pre-launch marks the job FAILED with
// the message" (spec §7 propagation policy).
func (d *Dispatcher) RunJob(ctx context.Context, ws *store.Workspace, idx *jobindex.Manager, jobID string, details JobDetails) error {
	job, err := ws.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Type == v1.JobTypeTask {
		return d.completeTaskJob(ctx, ws, idx, job)
	}

	pluginName := job.PluginName()
	if !pluginExists(d.Cfg.PluginsDir, pluginName) {
		return d.fail(ctx, ws, idx, job, fmt.Sprintf("plugin %q not found", pluginName))
	}

	var secrets map[string]string
	if d.Secrets != nil {
		secrets, err = d.Secrets(ctx, details.TeamID)
		if err != nil {
			logger.ErrorS(err, "secret lookup failed, continuing without secrets", "job_id", job.ID)
		}
	}

	jobDir := storage.ResolveLocalRunsRoot(d.Cfg, details.OrgID, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return d.fail(ctx, ws, idx, job, "create job run directory: "+err.Error())
	}

	envVars := buildPluginJobEnvVars(job, details.OrgID, details.UserID, d.Cfg.SourceCodeDir, secrets)

	if job.Type == v1.JobTypeTrain {
		if cfgMap := job.JobData.GetMap(v1.JobDataConfig); cfgMap != nil {
			if runSweeps, _ := cfgMap["run_sweeps"].(bool); runSweeps {
				return d.runSweepJob(ctx, ws, idx, job, cfgMap, jobDir, pluginName, envVars, details)
			}
		}
	}

	command, setup, buildErr := d.synthesizeCommand(ctx, ws, job, details, jobDir, pluginName)
	if buildErr != nil {
		return d.fail(ctx, ws, idx, job, buildErr.Error())
	}

	job.Status = v1.JobLaunching
	job.UpdatedAt = time.Now().UTC()
	if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
		return err
	}

	cfg := v1.ClusterConfig{
		ClusterName:    job.ID,
		Command:        command,
		Setup:          setup,
		EnvVars:        envVars,
		ProviderConfig: map[string]string{"workspace_dir": jobDir},
	}

	prov := d.providerFor(job, details)
	result, launchErr := prov.LaunchCluster(ctx, job.ID, cfg)
	if launchErr != nil {
		return d.fail(ctx, ws, idx, job, launchErr.Error())
	}

	job.JobData.SetString(v1.JobDataOutputFilePath, ws.JobLogPath(job))
	job.JobData[v1.JobDataProviderJobID] = result.JobID
	job.Status = v1.JobRunning
	job.UpdatedAt = time.Now().UTC()
	if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
		return err
	}
	idx.ScheduleRebuild(job.ExperimentID)
	return nil
}

// providerFor selects the compute backend: REMOTE jobs route through the
// provider named in job_data.provider_name via the router; every other job
// type always runs through the local subprocess provider (spec §4.3
// common preflight: "Call LocalProvider().launch_cluster").
func (d *Dispatcher) providerFor(job *v1.Job, details JobDetails) provider.Provider {
	if job.Type == v1.JobTypeRemote && d.Router != nil {
		name := job.JobData.GetString(v1.JobDataProviderName)
		if name != "" {
			if p, err := d.Router.GetProvider(context.Background(), details.TeamID, name); err == nil {
				return p
			}
		}
	}
	return local.New(d.Cfg.SourceCodeDir)
}

// fail marks job FAILED with msg as error_msg and persists it (spec §7:
// "any exception during pre-launch marks the job FAILED with the message").
func (d *Dispatcher) fail(ctx context.Context, ws *store.Workspace, idx *jobindex.Manager, job *v1.Job, msg string) error {
	job.Status = v1.JobFailed
	job.JobData.SetString(v1.JobDataErrorMsg, msg)
	job.UpdatedAt = time.Now().UTC()
	if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
		return err
	}
	if idx != nil {
		idx.ScheduleRebuild(job.ExperimentID)
	}
	logger.Warningf("job %s failed: %s", job.ID, msg)
	return nil
}

// completeTaskJob marks a TASK job COMPLETE immediately, with no
// execution (spec §4.3 per-type table, TASK row).
func (d *Dispatcher) completeTaskJob(ctx context.Context, ws *store.Workspace, idx *jobindex.Manager, job *v1.Job) error {
	job.Status = v1.JobComplete
	job.Progress = 100
	job.UpdatedAt = time.Now().UTC()
	if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
		return err
	}
	idx.ScheduleRebuild(job.ExperimentID)
	return nil
}

// synthesizeCommand builds the `cd <plugin_dir> && python main.py <flags>`
// command and optional setup command for job's type (spec §4.3 per-type
// flag synthesis table).
func (d *Dispatcher) synthesizeCommand(ctx context.Context, ws *store.Workspace, job *v1.Job, details JobDetails, jobDir, pluginName string) (command, setup string, err error) {
	setup, err = resolveSetupCommand(d.Cfg.PluginsDir, pluginName)
	if err != nil {
		return "", "", err
	}

	cfgMap := job.JobData.GetMap(v1.JobDataConfig)
	if cfgMap == nil {
		cfgMap = map[string]interface{}{}
	}

	b := buildCtx{job: job, cfg: cfgMap, jobDir: jobDir, experimentName: details.ExperimentName}

	switch job.Type {
	case v1.JobTypeEval, v1.JobTypeGenerate, v1.JobTypeDiffusion:
		inputPath, writeErr := writeInputFile(jobDir, details.ExperimentName, details.ExperimentConfig, cfgMap)
		if writeErr != nil {
			return "", "", writeErr
		}
		b.inputFilePath = inputPath

		var flags []string
		switch job.Type {
		case v1.JobTypeEval:
			flags = evalFlags(b)
		case v1.JobTypeGenerate:
			flags = generateFlags(b)
		case v1.JobTypeDiffusion:
			imageFlags, cleaned, imgErr := materializeDiffusionImages(cfgMap, jobDir)
			if imgErr != nil {
				return "", "", imgErr
			}
			job.JobData[v1.JobDataConfig] = cleaned
			flags = diffusionFlags(b, imageFlags, cleaned)
		}
		return pluginCommand(d.Cfg.PluginsDir, pluginName, flags), setup, nil

	case v1.JobTypeExport:
		outputModelID := exportOutputModelID(cfgMap, time.Now().UTC())
		if _, createErr := ws.Models.Create(ctx, outputModelID); createErr != nil && !apierrors.Is(createErr, apierrors.KindValidation) {
			return "", "", createErr
		}
		outputDir := ws.Models.Dir(outputModelID)
		flags := exportFlags(b, outputModelID, outputDir)
		return pluginCommand(d.Cfg.PluginsDir, pluginName, flags), setup, nil

	case v1.JobTypeTrain:
		inputPath, writeErr := writeInputFile(jobDir, details.ExperimentName, details.ExperimentConfig, cfgMap)
		if writeErr != nil {
			return "", "", writeErr
		}
		b.inputFilePath = inputPath
		return pluginCommand(d.Cfg.PluginsDir, pluginName, trainFlags(b)), setup, nil

	default:
		inputPath, writeErr := writeInputFile(jobDir, details.ExperimentName, details.ExperimentConfig, cfgMap)
		if writeErr != nil {
			return "", "", writeErr
		}
		b.inputFilePath = inputPath
		return pluginCommand(d.Cfg.PluginsDir, pluginName, trainFlags(b)), setup, nil
	}
}

func pluginCommand(pluginsDir, pluginName string, flags []string) string {
	dir := pluginDir(pluginsDir, pluginName)
	command := "cd " + dir + " && python main.py"
	for _, f := range flags {
		command += " " + shellQuote(f)
	}
	return command
}

// shellQuote wraps an argument in single quotes for safe inclusion in the
// synthesized bash -c command line, escaping any embedded single quote.
func shellQuote(s string) string {
	escaped := ""
	for _, r := range s {
		if r == '\'' {
			escaped += `'\''`
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}
