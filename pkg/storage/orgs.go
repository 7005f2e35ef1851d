// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package storage

import "context"

// ListOrgs enumerates every organization subtree under rootBackend's
// "orgs/" prefix (spec §6.1: "<root>/orgs/<org_id>/workspace/"), the
// discovery step the dispatcher needs to drain QUEUED jobs "across all
// organizations" (spec §4.3) without a database of known org ids. A
// single-tenant deployment with no "orgs/" prefix yields the single
// default org id "" (spec §6.1 "Local only" case), matching the jobs.json
// listJobIDs idiom of deriving a set from a directory scan rather than
// trusting external state.
func ListOrgs(ctx context.Context, rootBackend Backend) ([]string, error) {
	objects, err := rootBackend.ListObjects(ctx, "orgs")
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var orgs []string
	for _, obj := range objects {
		id := firstPathSegment(obj.Key, "orgs/")
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		orgs = append(orgs, id)
	}
	if len(orgs) == 0 {
		return []string{""}, nil
	}
	return orgs, nil
}

func firstPathSegment(key, prefix string) string {
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return ""
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}
