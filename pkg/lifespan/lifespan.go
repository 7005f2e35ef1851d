// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package lifespan guarantees the startup/shutdown contract a long-running
// process needs (spec §4.5): a set of named background tasks must all run
// to completion before the process is considered ready, and on shutdown
// every task is cancelled and every cleanup hook runs even if a startup
// step failed. It generalizes the graceful-shutdown idiom the teacher's
// cmd/control-plane-controller main.go and pkg/jobs/runner.go use
// (context.WithCancel + signal.Notify + a goroutine that calls cancel())
// into a reusable primitive the core can use for apiserver and dispatcher
// process startup alike.
package lifespan

import (
	"context"
	"sync"

	"github.com/transformerlab/orchestrator-core/internal/logger"
)

// TaskState is the lifecycle state of a background Task.
type TaskState int32

const (
	StateRunning TaskState = iota
	StateDone
	StateFailed
)

// Task wraps a goroutine the Manager tracks for cancellation at shutdown.
// A Task is safe to Cancel or Wait on repeatedly, and from multiple
// goroutines.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state TaskState
	err   error
}

// Go starts fn in a new goroutine under a context derived from ctx, and
// returns a Task tracking it. fn must return promptly once its context is
// cancelled.
func Go(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateRunning,
	}
	go func() {
		defer close(t.done)
		err := fn(taskCtx)
		t.mu.Lock()
		defer t.mu.Unlock()
		t.err = err
		if err != nil {
			t.state = StateFailed
		} else {
			t.state = StateDone
		}
	}()
	return t
}

// Cancel requests the task stop, tolerating a nil Task and a Task that has
// already finished (successfully or not) without raising (spec §4.5: "A
// task cancellation primitive must tolerate None, already-done, and
// already-failed tasks without raising").
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state != StateRunning {
		return
	}
	t.cancel()
}

// Wait blocks until the task finishes and returns its error, or nil for a
// nil Task (the same tolerance Cancel applies).
func (t *Task) Wait() error {
	if t == nil {
		return nil
	}
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// State reports the task's current lifecycle state; a nil Task reports
// StateDone so callers can range over a slice that may contain nils.
func (t *Task) State() TaskState {
	if t == nil {
		return StateDone
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Name returns the task's label, or "" for a nil Task.
func (t *Task) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// StartupStep is one named, ordered startup action (spec §4.5: "DB init,
// gallery refresh, controller subprocess spawn, seeding, legacy
// migrations"). A step that fails stops subsequent steps from running, but
// never skips the cleanup hooks already registered by earlier steps.
type StartupStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// Manager owns every background Task spawned for a process and every
// cleanup hook registered during startup, guaranteeing both are honored at
// Shutdown regardless of how startup went (spec §4.5).
type Manager struct {
	mu      sync.Mutex
	tasks   []*Task
	cleanup []func(context.Context) error
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Spawn starts a background task and tracks it for cancellation at
// Shutdown.
func (m *Manager) Spawn(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := Go(ctx, name, fn)
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	return t
}

// AddCleanupHook registers fn to run during Shutdown, in the order added,
// after every tracked task has been cancelled and awaited. Cleanup hooks
// run even when RunStartup returned an error (spec §4.5: "DB + cleanup
// hooks MUST run even if startup raised").
func (m *Manager) AddCleanupHook(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanup = append(m.cleanup, fn)
}

// RunStartup runs steps in order, stopping at the first error. It always
// returns that error (if any) to the caller; Shutdown must still be called
// so registered cleanup hooks and already-spawned tasks are honored.
func (m *Manager) RunStartup(ctx context.Context, steps ...StartupStep) error {
	for _, step := range steps {
		logger.Infof("lifespan: starting %s", step.Name)
		if err := step.Run(ctx); err != nil {
			logger.ErrorS(err, "lifespan: startup step failed", "step", step.Name)
			return err
		}
	}
	logger.Infof("lifespan: startup complete (%d steps)", len(steps))
	return nil
}

// Shutdown cancels every tracked task, waits for each to exit, then runs
// every cleanup hook in registration order, collecting but not stopping on
// individual hook errors. It is safe to call even when no task was ever
// spawned or no startup step ever ran.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	tasks := append([]*Task(nil), m.tasks...)
	hooks := append([]func(context.Context) error(nil), m.cleanup...)
	m.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, t := range tasks {
		if err := t.Wait(); err != nil {
			logger.ErrorS(err, "lifespan: background task exited with error", "task", t.Name())
		}
	}

	var firstErr error
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			logger.ErrorS(err, "lifespan: cleanup hook failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
