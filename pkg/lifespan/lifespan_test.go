// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package lifespan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskCancel_ToleratesNilAlreadyDoneAndAlreadyFailed(t *testing.T) {
	var nilTask *Task
	require.NotPanics(t, func() { nilTask.Cancel() })
	require.NoError(t, nilTask.Wait())
	require.Equal(t, StateDone, nilTask.State())

	done := Go(context.Background(), "done-task", func(ctx context.Context) error { return nil })
	require.NoError(t, done.Wait())
	require.NotPanics(t, func() { done.Cancel() })
	require.Equal(t, StateDone, done.State())

	failed := Go(context.Background(), "failed-task", func(ctx context.Context) error { return errors.New("boom") })
	require.Error(t, failed.Wait())
	require.NotPanics(t, func() { failed.Cancel() })
	require.Equal(t, StateFailed, failed.State())
}

func TestTaskCancel_StopsRunningTaskViaContext(t *testing.T) {
	started := make(chan struct{})
	task := Go(context.Background(), "long-task", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	task.Cancel()
	err := task.Wait()
	require.Error(t, err)
	require.Equal(t, StateFailed, task.State())
}

func TestManagerRunStartup_StopsAtFirstError(t *testing.T) {
	m := NewManager()
	var ran []string

	err := m.RunStartup(context.Background(),
		StartupStep{Name: "db-init", Run: func(ctx context.Context) error {
			ran = append(ran, "db-init")
			return nil
		}},
		StartupStep{Name: "seed", Run: func(ctx context.Context) error {
			ran = append(ran, "seed")
			return errors.New("seed failed")
		}},
		StartupStep{Name: "never-reached", Run: func(ctx context.Context) error {
			ran = append(ran, "never-reached")
			return nil
		}},
	)

	require.Error(t, err)
	require.Equal(t, []string{"db-init", "seed"}, ran)
}

func TestManagerShutdown_CancelsTasksAndRunsCleanupHooksEvenAfterStartupFailure(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var taskStopped int32
	started := make(chan struct{})
	m.Spawn(ctx, "background-refresh", func(taskCtx context.Context) error {
		close(started)
		<-taskCtx.Done()
		atomic.StoreInt32(&taskStopped, 1)
		return taskCtx.Err()
	})
	<-started

	var hookRan bool
	m.AddCleanupHook(func(ctx context.Context) error {
		hookRan = true
		return nil
	})

	startupErr := m.RunStartup(ctx, StartupStep{Name: "fails", Run: func(ctx context.Context) error {
		return errors.New("startup exploded")
	}})
	require.Error(t, startupErr)

	require.NoError(t, m.Shutdown(ctx))
	require.True(t, hookRan)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&taskStopped) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManagerShutdown_CollectsFirstCleanupHookError(t *testing.T) {
	m := NewManager()
	m.AddCleanupHook(func(ctx context.Context) error { return errors.New("first hook failed") })
	m.AddCleanupHook(func(ctx context.Context) error { return errors.New("second hook failed") })

	err := m.Shutdown(context.Background())
	require.EqualError(t, err, "first hook failed")
}

func TestManagerShutdown_NoopWhenNothingSpawned(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Shutdown(context.Background()))
}
