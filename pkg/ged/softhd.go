// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// SoftHd is a differentiable relaxation of Hd: instead of picking the cheapest candidate (a node of the other
// graph or the deletion), each node pays the expected cost under a softmax over the negated candidate costs.
//
// As Temperature goes to 0 it converges to Hd. Padding nodes get exactly 0 weight.
type SoftHd struct {
	NodeCost, EdgeCost float64
	Temperature        float64
}

var _ Distance = (*SoftHd)(nil)

// NewSoftHd returns a SoftHd with the default edit costs and temperature.
func NewSoftHd() *SoftHd {
	return &SoftHd{NodeCost: DefaultNodeCost, EdgeCost: DefaultEdgeCost, Temperature: DefaultTemperature}
}

// Name implements Distance.
func (d *SoftHd) Name() string { return "SoftHd" }

// Pairwise implements Distance.
func (d *SoftHd) Pairwise(a, b Embedded) *Node {
	costs := computeEditCosts(a, b, d.NodeCost, d.EdgeCost)
	rowCosts := softAssignmentCost(
		appendAlternative(costs.substitution, costs.deletion, 2),
		appendAlternativeMask(costs.validPairs, 2), 2, d.Temperature)
	colCosts := softAssignmentCost(
		appendAlternative(costs.substitution, costs.insertion, 1),
		appendAlternativeMask(costs.validPairs, 1), 1, d.Temperature)
	return costs.aggregate(rowCosts, colCosts)
}

// softAssignmentCost returns Σ w·c over the valid candidates of the axis, with w = softmax(−c/temperature)
// restricted to the valid candidates. There must be at least one valid candidate on every line.
func softAssignmentCost(candidateCosts, valid *Node, axis int, temperature float64) *Node {
	dims := candidateCosts.Shape().Dimensions
	reducedDims := make([]int, len(dims))
	copy(reducedDims, dims)
	reducedDims[axis] = 1

	logits := MulScalar(candidateCosts, -1.0/temperature)
	lowest := BroadcastToDims(
		ConstAsDType(logits.Graph(), logits.DType(), -unmatchedSentinel), dims...)
	maxLogits := ReduceMax(Where(valid, logits, lowest), axis)
	maxLogits = BroadcastToDims(Reshape(maxLogits, reducedDims...), dims...)

	// Masked entries are replaced before Exp so that neither the value nor its gradient overflow.
	shifted := Sub(Where(valid, logits, maxLogits), maxLogits)
	weights := Where(valid, Exp(shifted), ZerosLike(shifted))
	normalizer := BroadcastToDims(Reshape(ReduceSum(weights, axis), reducedDims...), dims...)
	weights = Div(weights, normalizer)

	safeCosts := Where(valid, candidateCosts, ZerosLike(candidateCosts))
	return ReduceSum(Mul(weights, safeCosts), axis)
}
