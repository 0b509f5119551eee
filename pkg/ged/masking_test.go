// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaddingMask(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, sizes *Node) *Node {
		return PaddingMask(sizes, 4)
	})
	got := exec.MustExec([]int32{1, 4, 2})[0]
	assert.Equal(t, [][]bool{
		{false, true, true, true},
		{false, false, false, false},
		{false, false, true, true},
	}, got.Value())
}

func TestMaskPaddingGradient(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, sizes *Node) *Node {
		g := sizes.Graph()
		weights := ctx.VariableWithValue("weights", [][][]float32{
			{{1, 2}, {3, 4}, {5, 6}},
			{{7, 8}, {9, 10}, {11, 12}},
		})
		embeddings := InterceptPaddingGradient(weights.ValueGraph(g), sizes)
		// A loss that sees every position, including the padding.
		loss := ReduceAllSum(Square(embeddings))
		grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
		require.Len(t, grads, 1)
		return grads[0]
	})
	got := exec.MustExec([]int32{2, 1})[0]
	require.True(t, got.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3, 2)))
	assert.Equal(t, [][][]float32{
		{{2, 4}, {6, 8}, {0, 0}},
		{{14, 16}, {0, 0}, {0, 0}},
	}, got.Value())
}

func TestDistanceGradientIgnoresPadding(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, d := range []Distance{NewHd(), NewSoftHd()} {
		t.Run(d.Name(), func(t *testing.T) {
			ctx := context.New()
			exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) *Node {
				g := inputs[0].Graph()
				features := ctx.VariableWithValue("features", [][][]float32{
					{{0, 0}, {1, 0}, {100, 100}},
				})
				a := EmbedBatch(ctx, EmbedderFunc(func(_ *context.Context, nodes, _, _ *Node) *Node {
					return Mul(nodes, features.ValueGraph(g))
				}), inputs[0], inputs[1], inputs[2])
				b := Embedded{Nodes: inputs[3], Adjacency: inputs[4], Sizes: inputs[5]}
				grads := ctx.BuildTrainableVariablesGradientsGraph(ReduceAllSum(d.Pairwise(a, b)))
				return grads[0]
			})
			n1, a1, s1 := paddedGraph([][]float32{{1, 1}, {1, 1}}, [][2]int{{0, 1}}, 3)
			n2, a2, s2 := paddedGraph([][]float32{{0.5, 0}, {2, 0}}, [][2]int{{0, 1}}, 3)
			grad := exec.MustExec(n1, a1, s1, n2, a2, s2)[0].Value().([][][]float32)
			assert.Equal(t, []float32{0, 0}, grad[0][2], "padding must not receive gradient")
			assert.NotEqual(t, []float32{0, 0}, grad[0][1], "real nodes should receive gradient")
		})
	}
}
