// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package main

import (
	"context"
	"os"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/transformerlab/orchestrator-core/internal/apierrors"
	"github.com/transformerlab/orchestrator-core/internal/config"
	"github.com/transformerlab/orchestrator-core/internal/logger"
	"github.com/transformerlab/orchestrator-core/pkg/dispatcher"
	"github.com/transformerlab/orchestrator-core/pkg/jobindex"
	"github.com/transformerlab/orchestrator-core/pkg/lifespan"
	"github.com/transformerlab/orchestrator-core/pkg/provider"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
	"github.com/transformerlab/orchestrator-core/pkg/store"
	"github.com/transformerlab/orchestrator-core/pkg/workflow"
)

// app bundles every long-lived dependency the HTTP handlers close over,
// built once at startup and never rebuilt per request (spec §1 C1/C9/C10,
// mirroring the teacher's Handler struct in
// apiserver/pkg/handlers/cd-handlers/handler.go).
type app struct {
	cfg        *config.Config
	registry   *store.Registry
	router     *provider.Router
	dispatcher *dispatcher.Dispatcher

	indexMu sync.Mutex
	indexes map[string]*jobindex.Manager
}

// newApp wires every core package together the way cmd/apiserver's process
// is expected to on startup (spec §4.5 "DB init" step, generalized to this
// filesystem-backed core: building the workspace registry and provider
// router is the analogue of connecting to a database).
func newApp(cfg *config.Config) (*app, error) {
	rootBackend, err := storage.NewBackend(cfg.StorageURI)
	if err != nil {
		return nil, err
	}
	registry := store.NewRegistry(cfg, rootBackend)

	fileConfig := provider.FileConfig{}
	if cfg.ProviderConfigFile != "" {
		raw, readErr := os.ReadFile(cfg.ProviderConfigFile)
		if readErr != nil {
			return nil, readErr
		}
		fileConfig, err = provider.LoadFileConfig(raw)
		if err != nil {
			return nil, err
		}
	}
	router := provider.NewRouter(nil, fileConfig, cfg.SourceCodeDir)

	disp := dispatcher.New(registry, cfg, nil, router)

	return &app{
		cfg:        cfg,
		registry:   registry,
		router:     router,
		dispatcher: disp,
		indexes:    map[string]*jobindex.Manager{},
	}, nil
}

// indexFor lazily builds and caches the jobindex.Manager for orgID's
// workspace, the same per-org cache the dispatcher keeps internally (spec
// §4.2), since handlers need the listing protocol too.
func (a *app) indexFor(orgID string) (*jobindex.Manager, *store.Workspace, error) {
	ws, err := a.registry.WorkspaceFor(orgID)
	if err != nil {
		return nil, nil, err
	}
	a.indexMu.Lock()
	defer a.indexMu.Unlock()
	if m, ok := a.indexes[orgID]; ok {
		return m, ws, nil
	}
	m := jobindex.NewManager(ws, a.cfg.CacheRebuildInterval, a.cfg.CacheRebuildBackoff)
	a.indexes[orgID] = m
	return m, ws, nil
}

// engineFor builds a workflow.Engine bound to orgID's workspace and job
// index cache (spec §1 C11).
func (a *app) engineFor(orgID string) (*workflow.Engine, *store.Workspace, error) {
	idx, ws, err := a.indexFor(orgID)
	if err != nil {
		return nil, nil, err
	}
	return workflow.NewEngine(ws, idx), ws, nil
}

// spawnBackgroundWorkers starts the per-org jobs.json rebuild loops and the
// provider router health sweep as lifespan-managed background tasks (spec
// §4.5 "gallery refresh" analogue: the jobs.json cache is this core's
// equivalent periodic-refresh background task).
func (a *app) spawnBackgroundWorkers(ctx context.Context, lm *lifespan.Manager) error {
	if err := a.router.StartHealthSweep(ctx, "*/1 * * * *"); err != nil {
		return apierrors.Wrap(err, "start provider health sweep")
	}
	lm.AddCleanupHook(func(context.Context) error {
		logger.Info("provider health sweep stopped")
		return nil
	})

	orgs, err := a.registry.ListOrgs(ctx)
	if err != nil {
		return err
	}
	for _, orgID := range orgs {
		idx, _, err := a.indexFor(orgID)
		if err != nil {
			return err
		}
		orgID := orgID
		lm.Spawn(ctx, "jobindex-rebuild-"+orgID, func(taskCtx context.Context) error {
			idx.Run(taskCtx)
			return nil
		})
	}
	return nil
}

// newRouter builds the thin gin surface described in spec §1 (HTTP/REST
// treated as a thin layer over the core) and §6.5 (job log SSE), grounded
// in the teacher's gin.New()+Recovery() setup in
// control-plane-controller/cmd/control-plane-controller/main.go.
func (a *app) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ready"})
	})

	v1 := r.Group("/api/v1")
	v1.POST("/dispatch/next", a.handleDispatchNext)

	orgs := v1.Group("/orgs/:org")
	orgs.GET("/experiments/:exp/jobs", a.handleListJobs)
	orgs.POST("/jobs/:job/stop", a.handleStopJob)
	orgs.GET("/jobs/:job/logs/stream", a.handleStreamJobLogs)
	orgs.GET("/jobs/:job/artifacts", a.handleGetJobArtifacts)

	wf := orgs.Group("/experiments/:exp/workflows/:workflow/runs/:run")
	wf.POST("/progress", a.handleProgressWorkflowRun)
	wf.POST("/cancel", a.handleCancelWorkflowRun)

	return r
}
