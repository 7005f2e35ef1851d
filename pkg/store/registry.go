// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package store

import (
	"context"
	"sync"

	"github.com/transformerlab/orchestrator-core/internal/config"
	"github.com/transformerlab/orchestrator-core/pkg/storage"
)

// Registry lazily builds and caches one Workspace per organization,
// explicit state that replaces the source's context-variable "current
// organization" (spec §9 REDESIGN FLAGS, §6.1). The dispatcher asks it for
// a Workspace scoped to the org it is about to drain a job for; handlers
// ask it for the Workspace scoped to the authenticated caller's org.
type Registry struct {
	cfg         *config.Config
	rootBackend storage.Backend

	mu    sync.Mutex
	byOrg map[string]*Workspace
}

// NewRegistry builds a Registry over cfg. rootBackend is rooted at
// cfg.StorageURI itself (not any single org's subtree) and is used only to
// discover known orgs (storage.ListOrgs).
func NewRegistry(cfg *config.Config, rootBackend storage.Backend) *Registry {
	return &Registry{cfg: cfg, rootBackend: rootBackend, byOrg: map[string]*Workspace{}}
}

// WorkspaceFor returns the cached Workspace for orgID, building and caching
// a new one (backend rooted at the org's resolved workspace root, spec
// §6.1) on first use.
func (r *Registry) WorkspaceFor(orgID string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.byOrg[orgID]; ok {
		return ws, nil
	}
	root := storage.ResolveWorkspaceRoot(r.cfg, orgID)
	backend, err := storage.NewBackend(root)
	if err != nil {
		return nil, err
	}
	ws := NewWorkspace(backend)
	r.byOrg[orgID] = ws
	return ws, nil
}

// ListOrgs enumerates every known organization (spec §4.3 "across all
// organizations").
func (r *Registry) ListOrgs(ctx context.Context) ([]string, error) {
	return storage.ListOrgs(ctx, r.rootBackend)
}
