// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/ged/pkg/scalars"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := smallConfig()
	cfg.LettersPerClass = 3
	cfg.Bucket = 8
	cfg.Save = filepath.Join(t.TempDir(), "model")
	cfg.LogDir = t.TempDir()
	splits, err := LoadData(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, splits.Train)

	var out bytes.Buffer
	result, err := Run(backend, smallContext(cfg), cfg, splits, &out)
	require.NoError(t, err)
	assert.Greater(t, result.Epoch, 0)
	assert.LessOrEqual(t, result.Epoch, cfg.Epochs)
	assert.GreaterOrEqual(t, result.BestAcc, 0.0)
	assert.Contains(t, out.String(), "Epoch 0")
	assert.Contains(t, out.String(), "Test Accuracy")
	require.Len(t, result.KNN, len(cfg.Ks))
	for _, k := range cfg.Ks {
		assert.Equal(t, len(splits.Test), result.KNN[k].Count())
	}

	// Scalars: one step per epoch, plus the test metrics.
	require.NotEmpty(t, result.RunDir)
	points, err := scalars.LoadPoints(result.RunDir)
	require.NoError(t, err)
	var numTrainLosses int
	for _, point := range points {
		if point.Name == "loss_train" {
			numTrainLosses++
		}
	}
	assert.Equal(t, cfg.Epochs, numTrainLosses)
	_, err = os.Stat(filepath.Join(result.RunDir, "plot_loss.svg"))
	assert.NoError(t, err)

	// Test only, from the saved model: no training, same k-NN sizes.
	testCfg := *cfg
	testCfg.Save, testCfg.LogDir = "", t.TempDir()
	testCfg.Test, testCfg.Load = true, cfg.Save
	out.Reset()
	tested, err := Run(backend, CreateDefaultContext(), &testCfg, splits, &out)
	require.NoError(t, err)
	assert.Equal(t, result.Record, tested.Record)
	assert.NotContains(t, out.String(), "Epoch 0")
	assert.InDelta(t, result.TestAcc.Avg(), tested.TestAcc.Avg(), 1e-6)
	assert.Empty(t, tested.RunDir, "scalars are only logged when training")
	entries, err := os.ReadDir(testCfg.LogDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Saving a new run over the saved model is refused.
	_, err = Run(backend, smallContext(cfg), cfg, splits, &out)
	require.Error(t, err)
}

func TestRunRequiresLoadForTest(t *testing.T) {
	cfg := smallConfig()
	cfg.Test = true
	_, err := Run(graphtest.BuildTestBackend(), CreateDefaultContext(), cfg, nil, &bytes.Buffer{})
	require.Error(t, err)
}

func TestLoadDataJSONLMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset = DatasetJSONL
	cfg.DataPath = filepath.Join(t.TempDir(), "missing")
	_, err := LoadData(cfg)
	require.Error(t, err)
}
