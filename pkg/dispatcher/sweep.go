// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	"github.com/transformerlab/orchestrator-core/internal/logger"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
	"github.com/transformerlab/orchestrator-core/pkg/jobindex"
	"github.com/transformerlab/orchestrator-core/pkg/provider/local"
	"github.com/transformerlab/orchestrator-core/pkg/store"
)

// runSweepJob runs a LoRA hyperparameter sweep to completion (blocking),
// persists sweep_results.json, and optionally launches a final standard
// training with the best configuration (spec §4.3 "Sweeps"). It sets the
// job COMPLETE only when no final training is launched; when one is, the
// job's status is left as RUNNING. Sweeps are a local-provider-only feature: it never
// routes through the provider router.
func (d *Dispatcher) runSweepJob(ctx context.Context, ws *store.Workspace, idx *jobindex.Manager, job *v1.Job, cfgMap map[string]interface{}, jobDir, pluginName string, envVars map[string]string, details JobDetails) error {
	setup, err := resolveSetupCommand(d.Cfg.PluginsDir, pluginName)
	if err != nil {
		return d.fail(ctx, ws, idx, job, err.Error())
	}

	job.Status = v1.JobRunning
	job.UpdatedAt = time.Now().UTC()
	if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
		return err
	}
	idx.ScheduleRebuild(job.ExperimentID)

	results, err := d.runSweep(ctx, job, cfgMap, jobDir, pluginName, setup, envVars, details)
	if err != nil {
		return d.fail(ctx, ws, idx, job, "sweep failed: "+err.Error())
	}
	job.JobData[v1.JobDataSweepResults] = results

	if results.BestConfig != nil {
		finalCfg := make(map[string]interface{}, len(cfgMap)+len(results.BestConfig))
		for k, v := range cfgMap {
			finalCfg[k] = v
		}
		for k, v := range results.BestConfig {
			finalCfg[k] = v
		}
		finalCfg["run_sweeps"] = false

		inputPath, writeErr := writeInputFile(jobDir, details.ExperimentName, details.ExperimentConfig, finalCfg)
		if writeErr != nil {
			return d.fail(ctx, ws, idx, job, writeErr.Error())
		}
		b := buildCtx{job: job, cfg: finalCfg, jobDir: jobDir, inputFilePath: inputPath, experimentName: details.ExperimentName}
		command := pluginCommand(d.Cfg.PluginsDir, pluginName, trainFlags(b))

		cfg := v1.ClusterConfig{
			ClusterName:    job.ID,
			Command:        command,
			Setup:          setup,
			EnvVars:        envVars,
			ProviderConfig: map[string]string{"workspace_dir": jobDir},
		}
		if _, launchErr := local.New(d.Cfg.SourceCodeDir).LaunchCluster(ctx, job.ID, cfg); launchErr != nil {
			return d.fail(ctx, ws, idx, job, "final training launch failed: "+launchErr.Error())
		}
		job.JobData.SetString(v1.JobDataOutputFilePath, ws.JobLogPath(job))
		job.UpdatedAt = time.Now().UTC()
		if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
			return err
		}
		idx.ScheduleRebuild(job.ExperimentID)
		return nil
	}

	job.Status = v1.JobComplete
	job.UpdatedAt = time.Now().UTC()
	if err := ws.Jobs.SetWhole(ctx, job.ID, job); err != nil {
		return err
	}
	idx.ScheduleRebuild(job.ExperimentID)
	return nil
}

// SweepConfig is job_data.config.sweep_config: a map of hyperparameter name
// to the list of values to try (spec §4.3 "Sweeps").
type SweepConfig map[string][]interface{}

// SweepRun is one point of the sweep's Cartesian product.
type SweepRun struct {
	Index  int
	Params map[string]interface{}
	Dir    string
	Metric float64
	HasMetric bool
}

// SweepResults is the persisted sweep_results.json document (spec §4.3,
// SPEC_FULL.md Open Question 1).
type SweepResults struct {
	SweepConfig   SweepConfig            `json:"sweep_config"`
	Results       []map[string]interface{} `json:"results"`
	BestConfig    map[string]interface{} `json:"best_config"`
	BestMetric    float64                `json:"best_metric"`
	MetricName    string                 `json:"metric_name"`
	LowerIsBetter bool                   `json:"lower_is_better"`
}

// cartesianProduct enumerates every combination of sweep's parameter
// values, in a deterministic key order so the same sweep_config always
// produces the same run ordering.
func cartesianProduct(sweep SweepConfig) []map[string]interface{} {
	keys := make([]string, 0, len(sweep))
	for k := range sweep {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]interface{}{{}}
	for _, key := range keys {
		values := sweep[key]
		var next []map[string]interface{}
		for _, combo := range combos {
			for _, v := range values {
				c := make(map[string]interface{}, len(combo)+1)
				for k, existing := range combo {
					c[k] = existing
				}
				c[key] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

// runSweep enumerates the sweep's Cartesian product, launches each run
// sequentially through the local provider, waits for each to exit, and
// tracks the best run by job_data.config.sweep_metric (default eval/loss,
// direction from sweep_lower_is_better, default true) (spec §4.3 "Sweeps").
// It returns the SweepResults, whose BestConfig holds the best run's params
// so the caller can optionally launch a final non-sweep training with them.
func (d *Dispatcher) runSweep(ctx context.Context, job *v1.Job, cfg map[string]interface{}, jobDir, pluginName, setup string, envVars map[string]string, details JobDetails) (SweepResults, error) {
	sweepRaw, _ := cfg["sweep_config"].(map[string]interface{})
	sweep := SweepConfig{}
	for k, v := range sweepRaw {
		if list, ok := v.([]interface{}); ok {
			sweep[k] = list
		}
	}

	metricName := stringField(cfg, "sweep_metric")
	if metricName == "" {
		metricName = "eval/loss"
	}
	lowerIsBetter := true
	if v, ok := cfg["sweep_lower_is_better"].(bool); ok {
		lowerIsBetter = v
	}

	combos := cartesianProduct(sweep)
	sweepDir := filepath.Join(jobDir, fmt.Sprintf("sweep_%s", job.ID))

	results := SweepResults{SweepConfig: sweep, MetricName: metricName, LowerIsBetter: lowerIsBetter}
	var best *SweepRun

	for i, params := range combos {
		runDir := filepath.Join(sweepDir, fmt.Sprintf("run_%d", i))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return results, err
		}

		runCfg := make(map[string]interface{}, len(cfg)+len(params))
		for k, v := range cfg {
			runCfg[k] = v
		}
		for k, v := range params {
			runCfg[k] = v
		}
		runCfg["adaptor_output_dir"] = filepath.Join(runDir, "adaptor")

		inputPath, err := writeInputFile(runDir, details.ExperimentName, details.ExperimentConfig, runCfg)
		if err != nil {
			return results, err
		}
		b := buildCtx{job: job, cfg: runCfg, jobDir: runDir, inputFilePath: inputPath, experimentName: details.ExperimentName}
		command := pluginCommand(d.Cfg.PluginsDir, pluginName, trainFlags(b))

		pid, err := d.launchSweepRun(ctx, runDir, command, setup, envVars)
		if err != nil {
			return results, err
		}
		if err := waitForPID(pid); err != nil {
			logger.Warningf("sweep run %d for job %s exited with error: %v", i, job.ID, err)
		}
		combineSweepLogs(runDir, sweepDir)

		metric, hasMetric := readSweepMetric(runDir, metricName)
		run := &SweepRun{Index: i, Params: params, Dir: runDir, Metric: metric, HasMetric: hasMetric}
		results.Results = append(results.Results, map[string]interface{}{
			"index": i, "params": params, "dir": runDir, "metric": metric, "has_metric": hasMetric,
		})

		if !hasMetric {
			continue
		}
		if best == nil || betterMetric(metric, best.Metric, lowerIsBetter) {
			best = run
		}
	}

	if best != nil {
		results.BestConfig = best.Params
		results.BestMetric = best.Metric
	}

	raw, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return results, err
	}
	if err := os.WriteFile(filepath.Join(sweepDir, "sweep_results.json"), raw, 0o644); err != nil {
		return results, err
	}
	return results, nil
}

func betterMetric(candidate, current float64, lowerIsBetter bool) bool {
	if lowerIsBetter {
		return candidate < current
	}
	return candidate > current
}

// readSweepMetric reads run_dir/metrics.json as {"<metric_name>": <float>},
// the minimum shape SPEC_FULL.md's Open Question resolution assumes.
func readSweepMetric(runDir, metricName string) (float64, bool) {
	raw, err := os.ReadFile(filepath.Join(runDir, "metrics.json"))
	if err != nil {
		return 0, false
	}
	var doc map[string]float64
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, false
	}
	v, ok := doc[metricName]
	return v, ok
}

// launchSweepRun starts a sweep run's subprocess detached, the same
// primitive the local provider's run phase uses, reused directly here
// since sweeps are a local-provider-only feature (spec §4.3).
func (d *Dispatcher) launchSweepRun(ctx context.Context, runDir, command, setup string, envVars map[string]string) (int, error) {
	if setup != "" {
		if err := runSetupInline(ctx, runDir, setup, envVars); err != nil {
			return 0, apierrors.NewPluginFailure(err, "sweep setup failed")
		}
	}
	return startDetachedProcess(runDir, command, envVars)
}

func runSetupInline(ctx context.Context, dir, setup string, envVars map[string]string) error {
	cmd := exec.CommandContext(ctx, "bash", "-c", setup)
	cmd.Dir = dir
	cmd.Env = mergedEnvSlice(envVars)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %s", err, string(out))
	}
	return nil
}

func startDetachedProcess(dir, command string, envVars map[string]string) (int, error) {
	stdout, err := os.Create(filepath.Join(dir, "stdout.log"))
	if err != nil {
		return 0, err
	}
	stderr, err := os.Create(filepath.Join(dir, "stderr.log"))
	if err != nil {
		stdout.Close()
		return 0, err
	}
	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	cmd.Env = mergedEnvSlice(envVars)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(dir, "pid"), []byte(fmt.Sprintf("%d", cmd.Process.Pid)), 0o644); err != nil {
		return 0, err
	}
	go func() {
		_ = cmd.Wait()
		stdout.Close()
		stderr.Close()
	}()
	return cmd.Process.Pid, nil
}

func mergedEnvSlice(envVars map[string]string) []string {
	env := os.Environ()
	for k, v := range envVars {
		env = append(env, k+"="+v)
	}
	return env
}

// waitForPID blocks until pid is no longer alive, polling like the source's
// "wait() on the pid file" (spec §4.3 "Launch sequentially ... and wait for
// exit by PID").
func waitForPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	for proc.Signal(syscall.Signal(0)) == nil {
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}

// combineSweepLogs appends a sweep run's stdout/stderr into the sweep's
// combined log (spec §4.3: "Copy stdout.log/stderr.log into a combined
// sweep log").
func combineSweepLogs(runDir, sweepDir string) {
	combined, err := os.OpenFile(filepath.Join(sweepDir, "combined.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer combined.Close()
	for _, name := range []string{"stdout.log", "stderr.log"} {
		data, err := os.ReadFile(filepath.Join(runDir, name))
		if err != nil {
			continue
		}
		_, _ = combined.Write(data)
	}
}
