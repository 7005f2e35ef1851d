// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Command apiserver exposes the orchestration core over HTTP: job listing,
// stop, log streaming, and workflow progress/cancel (spec §1 scope note:
// "HTTP/REST is a thin layer over the core"). Startup and shutdown are
// sequenced through pkg/lifespan the way the teacher's
// cmd/control-plane-controller main.go sequences its own DB/cron/subprocess
// startup and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transformerlab/orchestrator-core/internal/config"
	"github.com/transformerlab/orchestrator-core/internal/logger"
	"github.com/transformerlab/orchestrator-core/pkg/lifespan"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.ErrorS(err, "failed to load config")
		os.Exit(1)
	}

	a, err := newApp(cfg)
	if err != nil {
		logger.ErrorS(err, "failed to build apiserver")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lm := lifespan.NewManager()

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: a.newRouter(),
	}
	lm.AddCleanupHook(func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	startErr := lm.RunStartup(ctx,
		lifespan.StartupStep{Name: "background-workers", Run: func(stepCtx context.Context) error {
			return a.spawnBackgroundWorkers(stepCtx, lm)
		}},
	)
	if startErr != nil {
		logger.ErrorS(startErr, "apiserver startup failed")
		_ = lm.Shutdown(context.Background())
		os.Exit(1)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Infof("apiserver listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("apiserver: shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			logger.ErrorS(err, "apiserver: http server exited unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := lm.Shutdown(shutdownCtx); err != nil {
		logger.ErrorS(err, "apiserver: shutdown did not complete cleanly")
		os.Exit(1)
	}
}

func listenAddr() string {
	if addr := os.Getenv("TFL_APISERVER_ADDR"); addr != "" {
		return addr
	}
	return ":8338"
}
