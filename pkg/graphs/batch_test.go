// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triangle(label int) *Graph {
	return &Graph{Label: label, Nodes: [][]float32{{1, 1}, {2, 2}, {3, 3}}, Edges: [][2]int{{0, 1}, {1, 2}, {2, 0}}}
}

func segment(label int) *Graph {
	return &Graph{Label: label, Nodes: [][]float32{{5, 5}, {6, 6}}, Edges: [][2]int{{0, 1}, {1, 1}}}
}

func TestPaddedSize(t *testing.T) {
	assert.Equal(t, 5, PaddedSize(5, 0))
	assert.Equal(t, 8, PaddedSize(5, 8))
	assert.Equal(t, 8, PaddedSize(8, 8))
	assert.Equal(t, 16, PaddedSize(9, 8))
	assert.Equal(t, 4, PaddedSize(1, 4))
}

func TestCollate(t *testing.T) {
	batch, err := Collate([]*Graph{segment(0), triangle(1)}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Size())
	assert.Equal(t, []int{2, 3, 2}, batch.Nodes.Shape().Dimensions)
	assert.Equal(t, []int{2, 3, 3}, batch.Adjacency.Shape().Dimensions)
	assert.Equal(t, []int32{2, 3}, tensors.MustCopyFlatData[int32](batch.Sizes))
	assert.Equal(t, []int{0, 1}, batch.Labels)

	// Padding rows are zero, and the self-loop of the segment is dropped.
	assert.Equal(t, []float32{5, 5, 6, 6, 0, 0, 1, 1, 2, 2, 3, 3}, tensors.MustCopyFlatData[float32](batch.Nodes))
	assert.Equal(t, []float32{
		0, 1, 0,
		1, 0, 0,
		0, 0, 0,

		0, 1, 1,
		1, 0, 1,
		1, 1, 0,
	}, tensors.MustCopyFlatData[float32](batch.Adjacency))

	// Bucketed.
	batch, err = Collate([]*Graph{segment(0)}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 2}, batch.Nodes.Shape().Dimensions)
	require.NoError(t, ValidateSizesTensor(batch.Sizes, 4))
}

func TestCollateErrors(t *testing.T) {
	_, err := Collate(nil, 0)
	require.Error(t, err)
	_, err = Collate([]*Graph{triangle(0), {Label: 1}}, 0)
	require.Error(t, err, "empty graphs must be rejected")
	_, err = Collate([]*Graph{triangle(0), {Nodes: [][]float32{{1}}}}, 0)
	require.Error(t, err, "different feature dimensions must be rejected")
	_, err = Collate([]*Graph{{Nodes: [][]float32{{1}}, Edges: [][2]int{{0, 3}}}}, 0)
	require.Error(t, err, "edges to non-existent nodes must be rejected")
}

func TestValidateSizes(t *testing.T) {
	require.NoError(t, ValidateSizes([]int32{1, 3, 4}, 4))
	require.Error(t, ValidateSizes([]int32{1, 0}, 4))
	require.Error(t, ValidateSizes([]int32{5}, 4))
	require.Error(t, ValidateSizesTensor(tensors.FromValue([][]int32{{1}}), 4))
}

func TestDegrees(t *testing.T) {
	g := &Graph{Nodes: [][]float32{{0}, {0}, {0}}, Edges: [][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 2}}}
	assert.Equal(t, []int{1, 2, 1}, g.Degrees())
	assert.Equal(t, 3, NumClasses([]*Graph{triangle(2), segment(0)}))
}
