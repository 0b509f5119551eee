// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"strings"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadraticSteps runs numSteps of the optimizer minimizing sum(w²), starting from w=[1, 2], and returns
// the values of w after each step.
func quadraticSteps(t *testing.T, params map[string]any, numSteps int) (ctx *context.Context, values [][]float32) {
	backend := graphtest.BuildTestBackend()
	ctx = context.New()
	ctx.SetParams(params)
	opt := NewNesterovSGD(ctx)
	var wVar *context.Variable
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		wVar = ctx.In("model").VariableWithValue("w", []float32{1, 2})
		loss := ReduceAllSum(Square(wVar.ValueGraph(g)))
		opt.UpdateGraph(ctx, g, loss)
		return loss
	})
	for range numSteps {
		_ = exec.MustExec()
		values = append(values, tensors.MustCopyFlatData[float32](wVar.MustValue()))
	}
	return
}

func TestNesterovSGD(t *testing.T) {
	// Gradient of sum(w²) is 2w. With lr=0.1 and momentum=0.9:
	// step 1: v=2w, w1 = w - 0.1*(2w + 0.9*2w) = 0.62w.
	// step 2: g=1.24w, v=0.9*2w+1.24w=3.04w, w2 = 0.62w - 0.1*(1.24w+0.9*3.04w) = 0.2224w.
	ctx, values := quadraticSteps(t, map[string]any{
		optimizers.ParamLearningRate: 0.1,
		ParamMomentum:                0.9,
		ParamWeightDecay:             0.0,
		ParamNesterov:                true,
	}, 2)
	assert.InDeltaSlice(t, []float32{0.62, 1.24}, values[0], 1e-5)
	assert.InDeltaSlice(t, []float32{0.2224, 0.4448}, values[1], 1e-5)
	assert.Equal(t, int64(2), optimizers.GetGlobalStep(ctx))

	// Velocity variables are created in their own scope, and removed by Clear.
	countVelocities := func() int {
		count := 0
		for v := range ctx.IterVariables() {
			if strings.HasPrefix(v.Scope(), "/"+VelocityScope) {
				count++
			}
		}
		return count
	}
	assert.Equal(t, 1, countVelocities())
	require.NoError(t, NewNesterovSGD(ctx).Clear(ctx))
	assert.Equal(t, 0, countVelocities())
}

func TestNesterovSGDClassicMomentum(t *testing.T) {
	// step 1: v=2w, w1 = w - 0.1*2w = 0.8w.
	// step 2: g=1.6w, v=0.9*2w+1.6w=3.4w, w2 = 0.8w - 0.34w = 0.46w.
	_, values := quadraticSteps(t, map[string]any{
		optimizers.ParamLearningRate: 0.1,
		ParamMomentum:                0.9,
		ParamWeightDecay:             0.0,
		ParamNesterov:                false,
	}, 2)
	assert.InDeltaSlice(t, []float32{0.8, 1.6}, values[0], 1e-5)
	assert.InDeltaSlice(t, []float32{0.46, 0.92}, values[1], 1e-5)
}

func TestNesterovSGDWeightDecay(t *testing.T) {
	// Without momentum: g = 2w + 0.5w, w1 = w - 0.1*2.5w = 0.75w.
	_, values := quadraticSteps(t, map[string]any{
		optimizers.ParamLearningRate: 0.1,
		ParamMomentum:                0.0,
		ParamWeightDecay:             0.5,
	}, 1)
	assert.InDeltaSlice(t, []float32{0.75, 1.5}, values[0], 1e-5)
}
