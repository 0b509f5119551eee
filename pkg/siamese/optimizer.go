// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

const (
	// ParamMomentum is the momentum factor of NesterovSGD. Default is 0.9.
	ParamMomentum = "sgd_momentum"

	// ParamWeightDecay is the L2 penalty added to the gradients by NesterovSGD. Default is 5e-4.
	ParamWeightDecay = "sgd_weight_decay"

	// ParamNesterov enables Nesterov momentum. If false, NesterovSGD uses classic momentum. Default is true.
	ParamNesterov = "sgd_nesterov"

	// VelocityScope is the absolute scope where NesterovSGD stores its velocity variables.
	VelocityScope = "sgd_nesterov"

	// DefaultLearningRate used if optimizers.ParamLearningRate is not set.
	DefaultLearningRate = 1e-2
)

// NesterovSGD is a stochastic gradient descent optimizer with (Nesterov) momentum and L2 weight decay.
// It implements optimizers.Interface.
//
// For each trainable variable w with gradient g, at every step:
//
//	g = g + decay·w
//	v = momentum·v + g
//	w = w - lr·(g + momentum·v)   // Nesterov; w - lr·v otherwise.
//
// The learning rate is read from optimizers.LearningRateVar, so it can be changed between steps
// (see StepSchedule) without recompiling the training graph.
type NesterovSGD struct {
	momentum, weightDecay float64
	nesterov              bool
}

var _ optimizers.Interface = (*NesterovSGD)(nil)

// NewNesterovSGD returns the optimizer configured with the context hyperparameters.
func NewNesterovSGD(ctx *context.Context) *NesterovSGD {
	return &NesterovSGD{
		momentum:    context.GetParamOr(ctx, ParamMomentum, 0.9),
		weightDecay: context.GetParamOr(ctx, ParamWeightDecay, 5e-4),
		nesterov:    context.GetParamOr(ctx, ParamNesterov, true),
	}
}

// UpdateGraph implements optimizers.Interface.
func (opt *NesterovSGD) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("NesterovSGD requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) == 0 {
		Panicf("NesterovSGD: no trainable variables used in the loss")
	}
	dtype := loss.DType()
	lrVar := optimizers.LearningRateVar(ctx, dtype, context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate))
	learningRate := lrVar.ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtypes.Int64)

	// Velocity variables are created after the iteration, since they change the context.
	var trainables []*context.Variable
	for v := range ctx.IterVariables() {
		if v.Trainable && v.InUseByGraph(g) {
			trainables = append(trainables, v)
		}
	}
	if len(trainables) != len(grads) {
		Panicf("BuildTrainableVariablesGradientsGraph returned gradients for %d variables, but NesterovSGD sees %d "+
			"trainable variables -- were new variables created in between?", len(grads), len(trainables))
	}
	for ii, v := range trainables {
		opt.applyGraph(ctx, g, v, grads[ii], learningRate)
	}
}

func (opt *NesterovSGD) applyGraph(ctx *context.Context, g *Graph, v *context.Variable, grad, learningRate *Node) {
	value := v.ValueGraph(g)
	if learningRate.DType() != grad.DType() {
		learningRate = ConvertDType(learningRate, grad.DType())
	}
	optimizers.TraceNaNInGradients(ctx, v, grad)
	grad = optimizers.ClipNaNsInGradients(ctx, grad)
	if opt.weightDecay > 0 {
		grad = Add(grad, MulScalar(value, opt.weightDecay))
	}
	step := grad
	if opt.momentum > 0 {
		velocityVar := velocityVariable(ctx, v)
		velocity := Add(MulScalar(velocityVar.ValueGraph(g), opt.momentum), grad)
		velocityVar.SetValueGraph(velocity)
		if opt.nesterov {
			step = Add(grad, MulScalar(velocity, opt.momentum))
		} else {
			step = velocity
		}
	}
	step = optimizers.ClipStepByValue(ctx, Mul(step, learningRate))
	updated := optimizers.ClipNaNsInUpdates(ctx, value, Sub(value, step))
	v.SetValueGraph(updated)
}

// velocityVariable returns the momentum buffer of the trainable variable, creating it with zeros if needed.
func velocityVariable(ctx *context.Context, trainable *context.Variable) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, VelocityScope, trainable.Scope())
	return ctx.Checked(false).InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(trainable.Name()+"_velocity", trainable.Shape()).
		SetTrainable(false)
}

// Clear deletes the velocity variables. It implements optimizers.Interface.
func (opt *NesterovSGD) Clear(ctx *context.Context) error {
	return ctx.InAbsPath(context.ScopeSeparator + VelocityScope).DeleteVariablesInScope()
}
