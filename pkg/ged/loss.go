// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

const (
	// ParamMargin is the margin of the contrastive loss: different-class pairs farther apart than the margin
	// don't contribute to the loss. It is also the decision threshold of SiameseAccuracy. Default is 1.0.
	ParamMargin = "ged_margin"

	DefaultMargin = 1.0
)

// MarginFromContext returns the ParamMargin value.
func MarginFromContext(ctx *context.Context) float64 {
	return context.GetParamOr(ctx, ParamMargin, DefaultMargin)
}

// checkPairs validates the distance and target shapes and returns target converted to the distance dtype.
func checkPairs(distance, target *Node) *Node {
	if distance.Rank() != 1 {
		Panicf("distance must be a vector shaped [batchSize], got %s", distance.Shape())
	}
	if target.Rank() != 1 || target.Shape().Dimensions[0] != distance.Shape().Dimensions[0] {
		Panicf("target must be shaped like the distance %s, got %s", distance.Shape(), target.Shape())
	}
	if target.DType() != distance.DType() {
		target = ConvertDType(target, distance.DType())
	}
	return target
}

// ContrastiveLoss returns the mean over the batch of
//
//	target·d² + (1−target)·max(0, margin−d)²
//
// where target is 1 for same-class pairs and 0 for different-class pairs. distance and target are shaped
// [batchSize], and the result is a scalar.
func ContrastiveLoss(distance, target *Node, margin float64) *Node {
	target = checkPairs(distance, target)
	similar := Mul(target, Square(distance))
	hinge := MaxScalar(Neg(AddScalar(distance, -margin)), 0)
	dissimilar := Mul(OneMinus(target), Square(hinge))
	return ReduceAllMean(Add(similar, dissimilar))
}

// SiameseAccuracy predicts "same class" when distance < margin and returns the fraction of pairs where the
// prediction matches target (1 for same class, 0 otherwise), as a scalar.
func SiameseAccuracy(distance, target *Node, margin float64) *Node {
	target = checkPairs(distance, target)
	g := distance.Graph()
	dtype := distance.DType()
	predictedSame := LessThan(distance, ConstAsDType(g, dtype, margin))
	isSame := GreaterThan(target, ConstAsDType(g, dtype, 0.5))
	mismatch := Abs(Sub(ConvertDType(predictedSame, dtype), ConvertDType(isSame, dtype)))
	return ReduceAllMean(OneMinus(mismatch))
}

// ContrastiveLossFromContext is ContrastiveLoss with the margin taken from ParamMargin.
func ContrastiveLossFromContext(ctx *context.Context, distance, target *Node) *Node {
	return ContrastiveLoss(distance, target, MarginFromContext(ctx))
}
