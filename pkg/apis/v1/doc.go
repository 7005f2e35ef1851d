// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package v1 holds the data model shared by every core component: jobs,
// experiments, datasets, models, tasks, templates, providers and workflows
// (spec §3). These are plain JSON-serializable structs, not Kubernetes CRDs —
// the store persists them as files, not API objects.
package v1
