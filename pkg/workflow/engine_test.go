// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
	"github.com/transformerlab/orchestrator-core/pkg/store"
)

func newTestWorkspace(t *testing.T) *store.Workspace {
	t.Helper()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return store.NewWorkspace(backend)
}

// trainEvalWorkflow builds the START -> task1(TRAIN) -> task2(EVAL)
// two-step graph used by the spec's worked example S3. It registers the
// backing Task resources task1/task2 in ws so resolveJobType can find
// their types.
func trainEvalWorkflow(t *testing.T, ws *store.Workspace) *v1.Workflow {
	t.Helper()
	ctx := context.Background()

	trainTask, err := ws.Tasks.Create(ctx, "train-task")
	require.NoError(t, err)
	trainTask.JSONData["type"] = string(v1.JobTypeTrain)
	require.NoError(t, ws.Tasks.SetWhole(ctx, "train-task", trainTask))

	evalTask, err := ws.Tasks.Create(ctx, "eval-task")
	require.NoError(t, err)
	evalTask.JSONData["type"] = string(v1.JobTypeEval)
	require.NoError(t, ws.Tasks.SetWhole(ctx, "eval-task", evalTask))

	return &v1.Workflow{
		ID:           "wf1",
		ExperimentID: "exp1",
		Nodes: []v1.WorkflowNode{
			{ID: "start", Type: v1.NodeStart, Out: []string{"task1"}},
			{ID: "task1", Type: v1.NodeTask, Name: "train", Task: "train-task", Outputs: `{"model_name":""}`, Out: []string{"task2"}},
			{ID: "task2", Type: v1.NodeTask, Name: "eval", Task: "eval-task", Inputs: `{"model_name":""}`, Out: []string{}},
		},
	}
}

func TestProgressWorkflowRun_StartsFirstLayerSkippingStartNode(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	wf := trainEvalWorkflow(t, ws)
	ctx := context.Background()

	run := v1.NewWorkflowRun("run1", wf.ID, wf.ExperimentID)
	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))

	require.Equal(t, v1.RunRunning, run.Status)
	require.Len(t, run.CurrentTasks, 1)
	require.Len(t, run.Jobs, 1)

	job, err := ws.Jobs.Get(ctx, run.CurrentTasks[0])
	require.NoError(t, err)
	require.Equal(t, "task1", job.JobData.GetString(workflowNodeIDKey))
}

func TestProgressWorkflowRun_WaitsWhileCurrentJobRunning(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	wf := trainEvalWorkflow(t, ws)
	ctx := context.Background()

	run := v1.NewWorkflowRun("run1", wf.ID, wf.ExperimentID)
	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	firstJobID := run.CurrentTasks[0]

	job, err := ws.Jobs.Get(ctx, firstJobID)
	require.NoError(t, err)
	job.Status = v1.JobRunning
	require.NoError(t, ws.Jobs.SetWhole(ctx, firstJobID, job))

	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	require.Equal(t, v1.RunRunning, run.Status)
	require.Equal(t, []string{firstJobID}, run.CurrentTasks)
}

func TestProgressWorkflowRun_AdvancesToNextTaskCarryingModelName(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	wf := trainEvalWorkflow(t, ws)
	ctx := context.Background()

	run := v1.NewWorkflowRun("run1", wf.ID, wf.ExperimentID)
	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	trainJobID := run.CurrentTasks[0]

	trainJob, err := ws.Jobs.Get(ctx, trainJobID)
	require.NoError(t, err)
	trainJob.Status = v1.JobComplete
	trainJob.JobData["config"] = map[string]interface{}{"model_name": "llama-7b"}
	require.NoError(t, ws.Jobs.SetWhole(ctx, trainJobID, trainJob))

	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	require.Equal(t, v1.RunRunning, run.Status)
	require.Len(t, run.CurrentTasks, 1)

	evalJobID := run.CurrentTasks[0]
	evalJob, err := ws.Jobs.Get(ctx, evalJobID)
	require.NoError(t, err)
	require.Equal(t, "task2", evalJob.JobData.GetString(workflowNodeIDKey))

	inputs, ok := evalJob.JobData["inputs"].(string)
	require.True(t, ok)
	require.Contains(t, inputs, "llama-7b")
}

func TestProgressWorkflowRun_CompletesWhenNoNextNodes(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	wf := trainEvalWorkflow(t, ws)
	ctx := context.Background()

	run := v1.NewWorkflowRun("run1", wf.ID, wf.ExperimentID)
	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	trainJobID := run.CurrentTasks[0]
	trainJob, _ := ws.Jobs.Get(ctx, trainJobID)
	trainJob.Status = v1.JobComplete
	require.NoError(t, ws.Jobs.SetWhole(ctx, trainJobID, trainJob))
	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))

	evalJobID := run.CurrentTasks[0]
	evalJob, _ := ws.Jobs.Get(ctx, evalJobID)
	evalJob.Status = v1.JobComplete
	require.NoError(t, ws.Jobs.SetWhole(ctx, evalJobID, evalJob))

	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	require.Equal(t, v1.RunComplete, run.Status)
	require.Empty(t, run.CurrentTasks)
}

func TestProgressWorkflowRun_FailedChildJobFailsRun(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	wf := trainEvalWorkflow(t, ws)
	ctx := context.Background()

	run := v1.NewWorkflowRun("run1", wf.ID, wf.ExperimentID)
	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	trainJobID := run.CurrentTasks[0]
	trainJob, _ := ws.Jobs.Get(ctx, trainJobID)
	trainJob.Status = v1.JobFailed
	require.NoError(t, ws.Jobs.SetWhole(ctx, trainJobID, trainJob))

	require.NoError(t, engine.ProgressWorkflowRun(ctx, run, wf))
	require.Equal(t, v1.RunFailed, run.Status)
}

func TestCancelWorkflowRun_StopsActiveJobsAndReturnsCancelledIDs(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	ctx := context.Background()

	_, err := ws.Jobs.Create(ctx, "j1")
	require.NoError(t, err)
	job, _ := ws.Jobs.Get(ctx, "j1")
	job.Status = v1.JobRunning
	require.NoError(t, ws.Jobs.SetWhole(ctx, "j1", job))

	run := v1.NewWorkflowRun("run1", "wf1", "exp1")
	run.CurrentTasks = []string{"j1"}

	cancelled, note, err := engine.CancelWorkflowRun(ctx, run)
	require.NoError(t, err)
	require.Equal(t, []string{"j1"}, cancelled)
	require.NotEmpty(t, note)
	require.Equal(t, v1.RunCancelled, run.Status)

	stopped, err := ws.Jobs.Get(ctx, "j1")
	require.NoError(t, err)
	require.True(t, stopped.JobData.IsStop())
}

func TestCancelWorkflowRun_SkipsAlreadyTerminalJobs(t *testing.T) {
	ws := newTestWorkspace(t)
	engine := NewEngine(ws, nil)
	ctx := context.Background()

	_, err := ws.Jobs.Create(ctx, "j1")
	require.NoError(t, err)
	job, _ := ws.Jobs.Get(ctx, "j1")
	job.Status = v1.JobComplete
	require.NoError(t, ws.Jobs.SetWhole(ctx, "j1", job))

	run := v1.NewWorkflowRun("run1", "wf1", "exp1")
	run.CurrentTasks = []string{"j1"}

	cancelled, _, err := engine.CancelWorkflowRun(ctx, run)
	require.NoError(t, err)
	require.Empty(t, cancelled)
}

func TestCheckWorkflowBelongsToExperiment_Mismatch(t *testing.T) {
	wf := &v1.Workflow{ID: "wf1", ExperimentID: "exp1"}
	err := CheckWorkflowBelongsToExperiment(wf, "exp2")
	require.Error(t, err)
	require.True(t, apierrors.Is(err, apierrors.KindPermissionMismatch))
}

func TestCheckRunBelongsToExperiment_Match(t *testing.T) {
	run := v1.NewWorkflowRun("run1", "wf1", "exp1")
	require.NoError(t, CheckRunBelongsToExperiment(run, "exp1"))
}
