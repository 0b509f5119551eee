// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "best")
	ctx := context.New()
	ctx.SetParam(ParamMomentum, 0.7)
	weights := ctx.In(ModelScope).VariableWithValue("w", []float32{1, 2, 3})
	saver, err := NewSaver(ctx, dir, "")
	require.NoError(t, err)
	require.NoError(t, SaveBest(saver, ctx, Record{Epoch: 3, BestAcc: 0.75}))
	weights.MustSetValue(tensors.FromValue([]float32{4, 5, 6}))
	require.NoError(t, SaveBest(saver, ctx, Record{Epoch: 5, BestAcc: 0.8}))

	// Restore into a fresh context: the latest checkpoint wins, including params.
	restored := context.New()
	record, err := LoadCheckpoint(restored, dir)
	require.NoError(t, err)
	assert.Equal(t, Record{Epoch: 5, BestAcc: 0.8}, record)
	assert.Equal(t, record, ReadRecord(restored))
	assert.Equal(t, 0.7, context.GetParamOr(restored, ParamMomentum, 0.0))
	w := restored.In(ModelScope).GetVariable("w")
	require.NotNil(t, w)
	assert.Equal(t, []float32{4, 5, 6}, tensors.MustCopyFlatData[float32](w.MustValue()))
}

func TestReadRecordEmpty(t *testing.T) {
	assert.Equal(t, Record{}, ReadRecord(context.New()))
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, err := LoadCheckpoint(context.New(), t.TempDir())
	require.Error(t, err)
	_, err = LoadCheckpoint(context.New(), filepath.Join(t.TempDir(), "does_not_exist"))
	require.Error(t, err)
}

func TestNewSaverRejectsOtherRuns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover.txt"), []byte("x"), 0644))
	_, err := NewSaver(context.New(), dir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")

	// Resuming from the same directory is fine, and an empty directory too.
	ctx := context.New()
	ctx.In(ModelScope).VariableWithValue("w", float32(1))
	resumeDir := filepath.Join(t.TempDir(), "resume")
	saver, err := NewSaver(ctx, resumeDir, "")
	require.NoError(t, err)
	require.NoError(t, SaveBest(saver, ctx, Record{Epoch: 1, BestAcc: 0.5}))
	_, err = NewSaver(ctx, resumeDir, resumeDir)
	require.NoError(t, err)
	_, err = NewSaver(context.New(), t.TempDir(), "")
	require.NoError(t, err)
}
