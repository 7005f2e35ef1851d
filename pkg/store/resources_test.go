// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/transformerlab/orchestrator-core/pkg/storage"
)

func newTestWorkspace(t *testing.T) *Workspace {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return NewWorkspace(backend)
}

// TestSaveArtifactRoundTrip exercises spec §8's round-trip law: "save_artifact(src)
// -> get_artifact_paths() contains the destination; repeating with the same
// source and name ... preserves prior file", and scenario S1's
// "get_artifact_paths(job_id) returns [\".../report.csv\"]".
func TestSaveArtifactRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	dest, err := ws.SaveArtifact(ctx, "42", "report.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)

	paths, err := ws.GetArtifactPaths(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []string{dest}, paths)

	// Repeating with the same source/name overwrites the file in place
	// rather than adding a second entry.
	_, err = ws.SaveArtifact(ctx, "42", "report.csv", []byte("a,b\n3,4\n"))
	require.NoError(t, err)

	paths, err = ws.GetArtifactPaths(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []string{dest}, paths)
}

func TestGetArtifactPathsEmptyWhenNoArtifacts(t *testing.T) {
	ws := newTestWorkspace(t)
	paths, err := ws.GetArtifactPaths(context.Background(), "no-such-job")
	require.NoError(t, err)
	require.Empty(t, paths)
}

func TestGetCheckpointPathsListsCheckpointFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	dest := ws.JobSubdir("7", SubdirCheckpoints) + "/ckpt-1000.pt"
	require.NoError(t, ws.Backend().UploadBytes(ctx, dest, []byte("weights")))

	paths, err := ws.GetCheckpointPaths(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, []string{dest}, paths)
}
