// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Command dispatcher runs the scheduler loop standalone: it polls
// start_next_job at config.DispatcherPollInterval (spec §4.4 C10), outside
// any HTTP request. Grounded in the teacher's
// cmd/control-plane-controller/main.go graceful-shutdown idiom, with the
// cron-scheduled job registration swapped for a plain ticker since the
// dispatcher's only job is "run the next queued job if no job is running in any org".
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transformerlab/orchestrator-core/internal/config"
	"github.com/transformerlab/orchestrator-core/internal/logger"
	"github.com/transformerlab/orchestrator-core/pkg/dispatcher"
	"github.com/transformerlab/orchestrator-core/pkg/lifespan"
	"github.com/transformerlab/orchestrator-core/pkg/provider"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
	"github.com/transformerlab/orchestrator-core/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.ErrorS(err, "failed to load config")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootBackend, err := storage.NewBackend(cfg.StorageURI)
	if err != nil {
		logger.ErrorS(err, "failed to open storage backend")
		os.Exit(1)
	}
	registry := store.NewRegistry(cfg, rootBackend)

	fileConfig := provider.FileConfig{}
	if cfg.ProviderConfigFile != "" {
		raw, err := os.ReadFile(cfg.ProviderConfigFile)
		if err != nil {
			logger.ErrorS(err, "failed to read provider config file")
			os.Exit(1)
		}
		fileConfig, err = provider.LoadFileConfig(raw)
		if err != nil {
			logger.ErrorS(err, "failed to parse provider config file")
			os.Exit(1)
		}
	}
	router := provider.NewRouter(nil, fileConfig, cfg.SourceCodeDir)
	disp := dispatcher.New(registry, cfg, nil, router)

	lm := lifespan.NewManager()

	startErr := lm.RunStartup(ctx,
		lifespan.StartupStep{Name: "provider-health-sweep", Run: func(stepCtx context.Context) error {
			return router.StartHealthSweep(stepCtx, "*/1 * * * *")
		}},
	)
	if startErr != nil {
		logger.ErrorS(startErr, "dispatcher startup failed")
		_ = lm.Shutdown(context.Background())
		os.Exit(1)
	}

	lm.Spawn(ctx, "dispatch-loop", func(taskCtx context.Context) error {
		runDispatchLoop(taskCtx, disp, cfg.DispatcherPollInterval)
		return nil
	})

	logger.Infof("dispatcher started, polling every %s", cfg.DispatcherPollInterval)
	<-ctx.Done()
	logger.Info("dispatcher: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := lm.Shutdown(shutdownCtx); err != nil {
		logger.ErrorS(err, "dispatcher: shutdown did not complete cleanly")
		os.Exit(1)
	}
}

// runDispatchLoop calls StartNextJob on every tick until ctx is cancelled,
// logging but never exiting on a single failed attempt: the next tick tries
// again (spec §4.4: "idempotent, safe to call repeatedly").
func runDispatchLoop(ctx context.Context, disp *dispatcher.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := disp.StartNextJob(ctx)
			if err != nil {
				logger.ErrorS(err, "dispatch tick failed")
				continue
			}
			if result != nil {
				logger.Infof("dispatch tick: %v", result)
			}
		}
	}
}
