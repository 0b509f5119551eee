// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Hd is the Hausdorff edit distance: each node is either matched to its closest node in the other graph
// (paying half the substitution cost, the other half being paid from the other side) or deleted, whichever is
// cheaper. The total is normalized by the number of nodes of both graphs.
//
// Only real nodes take part in the matching: padding nodes are never candidates and add nothing.
// The distance of a graph to itself is 0.
type Hd struct {
	NodeCost, EdgeCost float64
}

var _ Distance = (*Hd)(nil)

// NewHd returns an Hd with the default edit costs.
func NewHd() *Hd {
	return &Hd{NodeCost: DefaultNodeCost, EdgeCost: DefaultEdgeCost}
}

// Name implements Distance.
func (d *Hd) Name() string { return "Hd" }

// Pairwise implements Distance.
func (d *Hd) Pairwise(a, b Embedded) *Node {
	costs := computeEditCosts(a, b, d.NodeCost, d.EdgeCost)
	g := costs.substitution.Graph()
	excluded := BroadcastToDims(
		ConstAsDType(g, costs.substitution.DType(), unmatchedSentinel),
		costs.substitution.Shape().Dimensions...)
	substitution := Where(costs.validPairs, costs.substitution, excluded)

	rowCosts := Min(ReduceMin(substitution, 2), costs.deletion)
	colCosts := Min(ReduceMin(substitution, 1), costs.insertion)
	return costs.aggregate(rowCosts, colCosts)
}

// unmatchedSentinel is larger than any real edit cost, so excluded pairs never win a minimum. The deletion
// alternative is always finite, so it never leaks into the result.
const unmatchedSentinel = 1e30
