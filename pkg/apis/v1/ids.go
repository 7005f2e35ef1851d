// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package v1

import "github.com/google/uuid"

// NewID generates a fresh resource id. Jobs use a numeric-looking id in the
// source system (so the store can order them lexicographically by number);
// this core instead uses a uuid, the convention the teacher's apis and
// a2a-gateway modules both use for generated resource ids.
func NewID() string {
	return uuid.New().String()
}
