// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package workflow implements the node-graph engine that advances a
// WorkflowRun job by job (spec §4.4): checking the status of the run's
// current jobs, skipping START nodes in favor of their successors, and
// queuing the next layer of TASK jobs with inputs/outputs carried forward
// from the last completed parent.
package workflow

import (
	"context"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	"github.com/transformerlab/orchestrator-core/internal/logger"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
	"github.com/transformerlab/orchestrator-core/pkg/jobindex"
	"github.com/transformerlab/orchestrator-core/pkg/store"
)

// currentStatus is the result of checkCurrentJobsStatus (spec §4.4 step 1).
type currentStatus string

const (
	statusFailed    currentStatus = "failed"
	statusCancelled currentStatus = "cancelled"
	statusRunning   currentStatus = "running"
	statusDone      currentStatus = ""
)

// workflowNodeIDKey is the job_data key queueTaskJob stamps onto a job so
// later engine passes can map a job back to the node that produced it.
const workflowNodeIDKey = "workflow_node_id"

// Engine advances WorkflowRuns, one progress_workflow step at a time.
type Engine struct {
	ws    *store.Workspace
	index *jobindex.Manager
}

// NewEngine builds an Engine over ws, using index to schedule jobs.json
// rebuilds whenever a job is queued.
func NewEngine(ws *store.Workspace, index *jobindex.Manager) *Engine {
	return &Engine{ws: ws, index: index}
}

// checkCurrentJobsStatus classifies run's current batch of jobs (spec §4.4
// step 1: FAILED wins over CANCELLED/DELETED/STOPPED wins over
// RUNNING/QUEUED/LAUNCHING/NOT_STARTED; all COMPLETE is "done").
func (e *Engine) checkCurrentJobsStatus(ctx context.Context, jobIDs []string) (currentStatus, error) {
	sawCancelled := false
	sawRunning := false
	for _, id := range jobIDs {
		job, err := e.ws.Jobs.Get(ctx, id)
		if err != nil {
			return statusFailed, err
		}
		switch job.Status {
		case v1.JobFailed:
			return statusFailed, nil
		case v1.JobCancelled, v1.JobDeleted, v1.JobStopped:
			sawCancelled = true
		case v1.JobRunning, v1.JobQueued, v1.JobLaunching, v1.JobNotStarted:
			sawRunning = true
		}
	}
	switch {
	case sawCancelled:
		return statusCancelled, nil
	case sawRunning:
		return statusRunning, nil
	default:
		return statusDone, nil
	}
}

// ProgressWorkflowRun advances run by one engine step (spec §4.4
// progress_workflow). run.CurrentTasks holds the job ids of the batch
// currently in flight; it is safe to call repeatedly while those jobs are
// still RUNNING/QUEUED, in which case this is a no-op.
func (e *Engine) ProgressWorkflowRun(ctx context.Context, run *v1.WorkflowRun, wf *v1.Workflow) error {
	if run.Status == v1.RunComplete || run.Status == v1.RunFailed || run.Status == v1.RunCancelled {
		return nil
	}

	var currentNodes []*v1.WorkflowNode
	if len(run.CurrentTasks) > 0 {
		status, err := e.checkCurrentJobsStatus(ctx, run.CurrentTasks)
		if err != nil {
			return err
		}
		switch status {
		case statusFailed:
			run.Status = v1.RunFailed
			return e.ws.WorkflowRuns.SetWhole(ctx, run.ID, run)
		case statusCancelled:
			run.Status = v1.RunCancelled
			return e.ws.WorkflowRuns.SetWhole(ctx, run.ID, run)
		case statusRunning:
			return nil
		}
		currentNodes = e.nodesForJobs(ctx, wf, run.CurrentTasks)
	} else {
		currentNodes = e.handleStartNodeSkip(wf, wf.StartNodes())
	}

	next := e.determineNextTasks(wf, currentNodes)
	if len(next) == 0 {
		run.Status = v1.RunComplete
		run.CurrentTasks = nil
		return e.ws.WorkflowRuns.SetWhole(ctx, run.ID, run)
	}

	var nextJobIDs []string
	for _, node := range next {
		previousOutputs, err := e.lastCompletedParentOutputs(ctx, run, wf, node)
		if err != nil {
			return err
		}
		jobID, err := e.queueTaskJob(ctx, run, node, previousOutputs)
		if err != nil {
			return err
		}
		nextJobIDs = append(nextJobIDs, jobID)
	}

	run.CurrentTasks = nextJobIDs
	run.Jobs = append(run.Jobs, nextJobIDs...)
	run.Status = v1.RunRunning
	return e.ws.WorkflowRuns.SetWhole(ctx, run.ID, run)
}

// nodesForJobs maps a batch of job ids back to the workflow nodes that
// produced them, via the workflow_node_id stamp queueTaskJob writes.
func (e *Engine) nodesForJobs(ctx context.Context, wf *v1.Workflow, jobIDs []string) []*v1.WorkflowNode {
	var out []*v1.WorkflowNode
	for _, id := range jobIDs {
		job, err := e.ws.Jobs.Get(ctx, id)
		if err != nil {
			continue
		}
		nodeID := job.JobData.GetString(workflowNodeIDKey)
		if node := wf.Node(nodeID); node != nil {
			out = append(out, node)
		}
	}
	return out
}

// handleStartNodeSkip replaces every START node with the union of its
// direct successors, recursing through any successor that is itself a
// START node (possible on a graph with re-entry). START nodes are never
// executed as jobs (spec §4.4 step 2, §4.4 invariant 8).
func (e *Engine) handleStartNodeSkip(wf *v1.Workflow, starts []*v1.WorkflowNode) []*v1.WorkflowNode {
	var out []*v1.WorkflowNode
	seen := map[string]bool{}
	for _, start := range starts {
		for _, succID := range start.Out {
			e.collectNonStart(wf, succID, seen, &out)
		}
	}
	return out
}

func (e *Engine) collectNonStart(wf *v1.Workflow, id string, seen map[string]bool, out *[]*v1.WorkflowNode) {
	if seen[id] {
		return
	}
	seen[id] = true
	node := wf.Node(id)
	if node == nil {
		return
	}
	if node.Type == v1.NodeStart {
		for _, succID := range node.Out {
			e.collectNonStart(wf, succID, seen, out)
		}
		return
	}
	*out = append(*out, node)
}

// determineNextTasks flattens every out edge from current into the next
// layer, skipping any START node found there by recursing into its
// successors (spec §4.4 step 3).
func (e *Engine) determineNextTasks(wf *v1.Workflow, current []*v1.WorkflowNode) []*v1.WorkflowNode {
	var next []*v1.WorkflowNode
	seen := map[string]bool{}
	for _, node := range current {
		for _, succID := range node.Out {
			e.collectNonStart(wf, succID, seen, &next)
		}
	}
	return next
}

// lastCompletedParentOutputs finds, among node's parents in wf, the most
// recently completed one whose job is recorded in run.Jobs, and extracts
// its outputs (spec §4.4 step 4, §4.4.1).
func (e *Engine) lastCompletedParentOutputs(ctx context.Context, run *v1.WorkflowRun, wf *v1.Workflow, node *v1.WorkflowNode) (map[string]string, error) {
	parents := parentsOf(wf, node.ID)
	if len(parents) == 0 {
		return map[string]string{}, nil
	}
	parentIDs := map[string]bool{}
	for _, p := range parents {
		parentIDs[p.ID] = true
	}

	var lastCompleted *v1.Job
	for _, jobID := range run.Jobs {
		job, err := e.ws.Jobs.Get(ctx, jobID)
		if err != nil {
			continue
		}
		if job.Status != v1.JobComplete {
			continue
		}
		if !parentIDs[job.JobData.GetString(workflowNodeIDKey)] {
			continue
		}
		if lastCompleted == nil || job.UpdatedAt.After(lastCompleted.UpdatedAt) {
			lastCompleted = job
		}
	}
	if lastCompleted == nil {
		return map[string]string{}, nil
	}
	return extractPreviousJobOutputs(lastCompleted), nil
}

func parentsOf(wf *v1.Workflow, nodeID string) []*v1.WorkflowNode {
	var out []*v1.WorkflowNode
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		for _, succ := range n.Out {
			if succ == nodeID {
				out = append(out, n)
			}
		}
	}
	return out
}

// queueTaskJob creates and queues a Job for node, carrying previousOutputs
// into its inputs/outputs via prepareNextTaskIO (spec §4.4 step 4).
func (e *Engine) queueTaskJob(ctx context.Context, run *v1.WorkflowRun, node *v1.WorkflowNode, previousOutputs map[string]string) (string, error) {
	jobType := e.resolveJobType(ctx, node)
	inputs, outputs, err := prepareNextTaskIO(node, jobType, previousOutputs)
	if err != nil {
		return "", err
	}

	jobID := v1.NewID()
	job := v1.NewJob(jobID, run.ExperimentID, jobType)
	job.Status = v1.JobQueued
	job.JobData.SetString(workflowNodeIDKey, node.ID)
	job.JobData.SetString("workflow_run_id", run.ID)
	job.JobData["inputs"] = inputs
	job.JobData["outputs"] = outputs

	if _, err := e.ws.Jobs.Create(ctx, jobID); err != nil {
		return "", err
	}
	if err := e.ws.Jobs.SetWhole(ctx, jobID, job); err != nil {
		return "", err
	}
	if e.index != nil {
		e.index.ScheduleRebuild(run.ExperimentID)
	}
	return jobID, nil
}

// resolveJobType resolves the job type a workflow TASK node launches by
// looking up its referenced Task resource's json_data.type (spec §4.4: a
// node's "task" field names a Task resource; Task configurations are
// per-type, spec §3). A missing or malformed Task falls back to
// JobTypeTask so a stale graph reference still degrades to a runnable job
// instead of blocking the run.
func (e *Engine) resolveJobType(ctx context.Context, node *v1.WorkflowNode) v1.JobType {
	if node.Task == "" {
		return v1.JobTypeTask
	}
	task, err := e.ws.Tasks.Get(ctx, node.Task)
	if err != nil {
		return v1.JobTypeTask
	}
	if t, ok := task.JSONData["type"].(string); ok && t != "" {
		return v1.JobType(t)
	}
	return v1.JobTypeTask
}

// CancelWorkflowRun sets run's status to CANCELLED and stops every job
// listed in its active_jobs metadata (falling back to the run's current
// batch when that metadata is absent), mirroring the Job API's stop path
// (spec §4.4.3).
func (e *Engine) CancelWorkflowRun(ctx context.Context, run *v1.WorkflowRun) (cancelledJobs []string, note string, err error) {
	run.Status = v1.RunCancelled

	ids := activeJobIDs(run)
	if len(ids) == 0 {
		ids = run.CurrentTasks
	}

	for _, jobID := range ids {
		job, getErr := e.ws.Jobs.Get(ctx, jobID)
		if getErr != nil {
			if apierrors.Is(getErr, apierrors.KindNotFound) {
				continue
			}
			return nil, "", getErr
		}
		if job.IsTerminal() {
			continue
		}
		job.JobData.SetBool(v1.JobDataStop, true)
		if err := e.ws.Jobs.SetWhole(ctx, jobID, job); err != nil {
			return nil, "", err
		}
		cancelledJobs = append(cancelledJobs, jobID)
	}

	if err := e.ws.WorkflowRuns.SetWhole(ctx, run.ID, run); err != nil {
		return nil, "", err
	}
	note = "run status moves to CANCELLED immediately; stopped jobs settle to STOPPED asynchronously as plugins observe job_data.stop"
	logger.Infof("cancelled workflow run %s: %d jobs signalled to stop", run.ID, len(cancelledJobs))
	return cancelledJobs, note, nil
}

// activeJobIDs reads run.NodeMetadata["active_jobs"]["ids"], the shape the
// source stores job_data.active_jobs under (spec §4.4.3).
func activeJobIDs(run *v1.WorkflowRun) []string {
	meta, ok := run.NodeMetadata["active_jobs"]
	if !ok {
		return nil
	}
	raw, ok := meta["ids"].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CheckWorkflowBelongsToExperiment enforces the workflow security check
// every operation performs: the workflow in the path must belong to
// experimentID (spec §4.4.3).
func CheckWorkflowBelongsToExperiment(wf *v1.Workflow, experimentID string) error {
	if wf.ExperimentID != experimentID {
		return apierrors.NewPermissionMismatch("workflow %s not found or does not belong to experiment %s", wf.ID, experimentID)
	}
	return nil
}

// CheckRunBelongsToExperiment is the same check for a WorkflowRun.
func CheckRunBelongsToExperiment(run *v1.WorkflowRun, experimentID string) error {
	if !run.BelongsTo(experimentID) {
		return apierrors.NewPermissionMismatch("workflow run %s not found or does not belong to experiment %s", run.ID, experimentID)
	}
	return nil
}
