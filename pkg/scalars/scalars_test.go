// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scalars

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDir(t *testing.T) {
	logDir := t.TempDir()
	dir, err := RunDir(logDir, 64)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logDir, "0_run-batchSize_64"), dir)
	require.DirExists(t, dir)

	// Unrelated entries are ignored.
	require.NoError(t, os.Mkdir(filepath.Join(logDir, "notes"), 0o755))
	dir, err = RunDir(logDir, 8)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logDir, "1_run-batchSize_8"), dir)
}

func TestLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	l, err := New(dir)
	require.NoError(t, err)
	for epoch := range 3 {
		l.AddScalar("loss_train", 1.0/float64(epoch+1))
		l.AddScalar("loss_valid", 2.0/float64(epoch+1))
		l.AddScalar("acc_valid", 0.5+0.1*float64(epoch))
		l.AddScalar("learning_rate", 0.01)
		l.Step()
	}
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "Close must be idempotent")

	points, err := LoadPoints(dir)
	require.NoError(t, err)
	require.Len(t, points, 12)
	assert.Equal(t, "acc_valid", points[10].Name)
	assert.Equal(t, "accuracy", points[10].MetricType)
	assert.Equal(t, 2.0, points[10].Step)
	assert.InDelta(t, 0.7, points[10].Value, 1e-9)

	runID, err := os.ReadFile(filepath.Join(dir, RunIDFileName))
	require.NoError(t, err)
	assert.Equal(t, l.RunID().String(), strings.TrimSpace(string(runID)))
	_, err = uuid.Parse(strings.TrimSpace(string(runID)))
	require.NoError(t, err)

	for _, metricType := range []string{"loss", "accuracy", "learning_rate"} {
		svg, err := os.ReadFile(filepath.Join(dir, "plot_"+metricType+".svg"))
		require.NoError(t, err)
		assert.Contains(t, string(svg), "<svg")
	}
}

func TestMetricType(t *testing.T) {
	assert.Equal(t, "loss", MetricType("loss_valid"))
	assert.Equal(t, "accuracy", MetricType("acc_1nn"))
	assert.Equal(t, "learning_rate", MetricType("learning_rate"))
}
