// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package jobindex

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transformerlab/orchestrator-core/internal/logger"
	v1 "github.com/transformerlab/orchestrator-core/pkg/apis/v1"
	"github.com/transformerlab/orchestrator-core/pkg/store"
)

// Manager owns the background rebuild worker and the listing protocol for
// every experiment's jobs.json (spec §4.2). One Manager serves one org
// workspace; experiment rebuild requests are deduplicated into a pending set
// and drained at ~1 Hz.
type Manager struct {
	ws       *store.Workspace
	interval time.Duration
	backoff  time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewManager builds a Manager over ws, draining pending rebuilds every
// interval and backing off by backoffDur after a rebuild error.
func NewManager(ws *store.Workspace, interval, backoffDur time.Duration) *Manager {
	return &Manager{
		ws:       ws,
		interval: interval,
		backoff:  backoffDur,
		pending:  map[string]struct{}{},
	}
}

// ScheduleRebuild marks experimentID dirty; the background worker picks it
// up on its next drain tick. Every call site that mutates a job's status or
// membership calls this instead of rebuilding synchronously (spec §4.2).
func (m *Manager) ScheduleRebuild(experimentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[experimentID] = struct{}{}
}

// RebuildSync rebuilds experimentID's jobs.json immediately, the sync=True
// escape hatch the source reserves for tests (spec §4.2).
func (m *Manager) RebuildSync(ctx context.Context, experimentID string) (*v1.JobIndex, error) {
	return Rebuild(ctx, m.ws, experimentID)
}

// Run drains the pending set at ~interval until ctx is cancelled. Rebuild
// errors are retried with an exponential back-off starting at m.backoff and
// are otherwise swallowed (logged, not raised) so the worker survives
// transient storage failures (spec §4.3 "Background workers ... swallow
// errors to avoid crashing on shutdown; they log best-effort").
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drain(ctx)
		}
	}
}

func (m *Manager) drain(ctx context.Context) {
	m.mu.Lock()
	batch := make([]string, 0, len(m.pending))
	for id := range m.pending {
		batch = append(batch, id)
	}
	m.pending = map[string]struct{}{}
	m.mu.Unlock()

	for _, experimentID := range batch {
		experimentID := experimentID
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = m.backoff
		b.MaxElapsedTime = m.backoff * 3

		err := backoff.Retry(func() error {
			_, err := Rebuild(ctx, m.ws, experimentID)
			return err
		}, b)
		if err != nil {
			logger.ErrorS(err, "jobs.json rebuild failed, will retry on next dirty mark", "experiment_id", experimentID)
		}
	}
}

// GetJobs implements the listing protocol (spec §4.2 Experiment.get_jobs):
// read jobs.json (rebuilding live if missing), resolve each candidate id
// through the cache-vs-live reconciliation rules, then apply a status
// filter that excludes DELETED by default.
func (m *Manager) GetJobs(ctx context.Context, experimentID string, jobType v1.JobType, status v1.JobStatus) ([]*v1.Job, error) {
	idx, ok := ReadIndex(ctx, m.ws, experimentID)
	if !ok {
		rebuilt, err := Rebuild(ctx, m.ws, experimentID)
		if err != nil {
			return nil, err
		}
		idx = rebuilt
	}

	var candidateIDs []string
	if jobType != "" {
		candidateIDs = idx.Index[jobType]
	} else {
		for _, ids := range idx.Index {
			candidateIDs = append(candidateIDs, ids...)
		}
	}

	var results []*v1.Job
	dirty := false
	for _, id := range candidateIDs {
		job, cachedDiffered, err := m.resolveOne(ctx, idx, id)
		if err != nil {
			continue
		}
		if cachedDiffered {
			dirty = true
		}
		if job == nil {
			continue
		}
		if job.Status == v1.JobDeleted {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		results = append(results, job)
	}

	if dirty {
		m.ScheduleRebuild(experimentID)
	}
	return results, nil
}

// resolveOne applies step 2 of the listing protocol for a single id.
func (m *Manager) resolveOne(ctx context.Context, idx *v1.JobIndex, id string) (job *v1.Job, scheduleRebuild bool, err error) {
	cached, inCache := idx.CachedJobs[id]
	if inCache {
		if cached.IsLive() {
			live, liveErr := m.ws.Jobs.Get(ctx, id)
			if liveErr != nil {
				return nil, false, liveErr
			}
			idx.RemoveFromCache(id)
			return live, live.Status != cached.Status, nil
		}
		return cached, false, nil
	}

	live, liveErr := m.ws.Jobs.Get(ctx, id)
	if liveErr != nil {
		return nil, false, liveErr
	}
	switch live.Status {
	case v1.JobComplete, v1.JobStopped, v1.JobFailed:
		return live, true, nil
	default:
		return live, false, nil
	}
}
