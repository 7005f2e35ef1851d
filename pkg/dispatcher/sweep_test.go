// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCartesianProduct_EnumeratesEveryCombinationDeterministically(t *testing.T) {
	sweep := SweepConfig{
		"lr":    []interface{}{0.1, 0.01},
		"epoch": []interface{}{1, 2},
	}

	combos := cartesianProduct(sweep)

	require.Len(t, combos, 4)
	for _, c := range combos {
		require.Contains(t, c, "lr")
		require.Contains(t, c, "epoch")
	}
	require.Equal(t, []map[string]interface{}{
		{"epoch": 1, "lr": 0.1},
		{"epoch": 1, "lr": 0.01},
		{"epoch": 2, "lr": 0.1},
		{"epoch": 2, "lr": 0.01},
	}, combos)
}

func TestCartesianProduct_EmptySweepYieldsOneEmptyCombo(t *testing.T) {
	combos := cartesianProduct(SweepConfig{})
	require.Len(t, combos, 1)
	require.Empty(t, combos[0])
}

func TestBetterMetric_RespectsDirection(t *testing.T) {
	require.True(t, betterMetric(0.1, 0.2, true))
	require.False(t, betterMetric(0.3, 0.2, true))
	require.True(t, betterMetric(0.9, 0.5, false))
	require.False(t, betterMetric(0.3, 0.5, false))
}

func TestReadSweepMetric_ReadsNamedKeyFromMetricsJSON(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "metrics.json"), []byte(`{"eval/loss":0.42,"extra":1}`), 0o644))

	v, ok := readSweepMetric(runDir, "eval/loss")
	require.True(t, ok)
	require.Equal(t, 0.42, v)
}

func TestReadSweepMetric_FalseWhenFileMissingOrKeyAbsent(t *testing.T) {
	runDir := t.TempDir()
	_, ok := readSweepMetric(runDir, "eval/loss")
	require.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(runDir, "metrics.json"), []byte(`{"other":1}`), 0o644))
	_, ok = readSweepMetric(runDir, "eval/loss")
	require.False(t, ok)
}
