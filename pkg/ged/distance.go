// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	"strings"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// ParamDistance selects the distance: "hd" (default) or "softhd".
	ParamDistance = "ged_distance"

	// ParamNodeCost is the cost of deleting (or inserting) a node. Default is 1.0.
	ParamNodeCost = "ged_node_cost"

	// ParamEdgeCost is the cost of deleting (or inserting) an edge. Default is 0.5.
	ParamEdgeCost = "ged_edge_cost"

	// ParamSoftHdTemperature is the temperature of the soft assignment used by SoftHd. Default is 0.1.
	ParamSoftHdTemperature = "ged_softhd_temperature"
)

const (
	DefaultNodeCost    = 1.0
	DefaultEdgeCost    = 0.5
	DefaultTemperature = 0.1
)

// Distance between pairs of embedded graphs.
type Distance interface {
	// Name of the distance, e.g. "Hd".
	Name() string

	// Pairwise returns the distance between a[i] and b[i], for each i in the batch: shaped [batchSize].
	// Both sides must have the same batch size, but can have a different number of (padded) nodes.
	Pairwise(a, b Embedded) *Node
}

// Broadcast computes the distance between one query graph (batch size 1) and each of the gallery graphs.
// The query is broadcast (not copied) to the gallery batch size. It returns shape [galleryBatchSize].
func Broadcast(d Distance, query, gallery Embedded) *Node {
	gallery.Check()
	return d.Pairwise(query.ExpandTo(gallery.BatchSize()), gallery)
}

// DistanceKind selects one of the Distance implementations.
type DistanceKind string

const (
	KindHd     DistanceKind = "hd"
	KindSoftHd DistanceKind = "softhd"
)

// New creates a Distance of the given kind with the default edit costs (and temperature, for SoftHd).
func New(kind DistanceKind) (Distance, error) {
	switch DistanceKind(strings.ToLower(string(kind))) {
	case KindHd:
		return NewHd(), nil
	case KindSoftHd:
		return NewSoftHd(), nil
	default:
		return nil, errors.Errorf("unknown distance %q, valid values are %q or %q", kind, KindHd, KindSoftHd)
	}
}

// FromContext creates the Distance configured by the context parameters ParamDistance, ParamNodeCost,
// ParamEdgeCost and ParamSoftHdTemperature.
func FromContext(ctx *context.Context) (Distance, error) {
	nodeCost := context.GetParamOr(ctx, ParamNodeCost, DefaultNodeCost)
	edgeCost := context.GetParamOr(ctx, ParamEdgeCost, DefaultEdgeCost)
	if nodeCost <= 0 || edgeCost < 0 {
		return nil, errors.Errorf("invalid edit costs %s=%g, %s=%g: node cost must be > 0 and edge cost >= 0",
			ParamNodeCost, nodeCost, ParamEdgeCost, edgeCost)
	}
	kind := DistanceKind(strings.ToLower(context.GetParamOr(ctx, ParamDistance, string(KindHd))))
	switch kind {
	case KindHd:
		return &Hd{NodeCost: nodeCost, EdgeCost: edgeCost}, nil
	case KindSoftHd:
		temperature := context.GetParamOr(ctx, ParamSoftHdTemperature, DefaultTemperature)
		if temperature <= 0 {
			return nil, errors.Errorf("invalid %s=%g, it must be > 0", ParamSoftHdTemperature, temperature)
		}
		return &SoftHd{NodeCost: nodeCost, EdgeCost: edgeCost, Temperature: temperature}, nil
	default:
		return nil, errors.Errorf("unknown distance %s=%q, valid values are %q or %q", ParamDistance, kind,
			KindHd, KindSoftHd)
	}
}

// editCosts holds the costs of matching the nodes of two padded graph batches.
type editCosts struct {
	// substitution cost of node u of the first graph by node v of the second, halved: [batchSize, n1, n2].
	substitution *Node

	// deletion cost of the nodes of the first graph [batchSize, n1], and insertion cost of the nodes of
	// the second [batchSize, n2].
	deletion, insertion *Node

	// valid1, valid2 mark the real nodes of each side, and validPairs the pairs where both are real.
	valid1, valid2, validPairs *Node

	// norm is the sum of the true sizes of both graphs, as a float: [batchSize].
	norm *Node
}

// computeEditCosts returns the node edit costs:
//
//   - substitution: c(u,v) = ‖h_u − h_v‖ + edgeCost·|deg(u) − deg(v)|/2, halved since each matched pair is
//     counted once from each side.
//   - deletion/insertion: c(u,ε) = nodeCost + edgeCost·deg(u)/2.
func computeEditCosts(a, b Embedded, nodeCost, edgeCost float64) *editCosts {
	a.Check()
	b.Check()
	if a.BatchSize() != b.BatchSize() {
		Panicf("graph distance requires the same batch size on both sides, got %d and %d -- use Broadcast "+
			"to compare one graph against many", a.BatchSize(), b.BatchSize())
	}
	if a.Nodes.Shape().Dimensions[2] != b.Nodes.Shape().Dimensions[2] {
		Panicf("graph distance requires the same embedding dimension on both sides, got shapes %s and %s",
			a.Nodes.Shape(), b.Nodes.Shape())
	}
	if a.Nodes.DType() != b.Nodes.DType() {
		Panicf("graph distance requires the same dtype on both sides, got %s and %s", a.Nodes.DType(), b.Nodes.DType())
	}
	dtype := a.Nodes.DType()
	batchSize, n1, n2 := a.BatchSize(), a.MaxNodes(), b.MaxNodes()
	dim := a.Nodes.Shape().Dimensions[2]

	// Pairwise L2 distance of the node embeddings.
	x := BroadcastToDims(Reshape(a.Nodes, batchSize, n1, 1, dim), batchSize, n1, n2, dim)
	y := BroadcastToDims(Reshape(b.Nodes, batchSize, 1, n2, dim), batchSize, n1, n2, dim)
	l2 := safeSqrt(ReduceSum(Square(Sub(x, y)), -1))

	// Structural part: degrees, counting only edges to real nodes.
	costs := &editCosts{}
	costs.valid1 = ValidMask(a.Sizes, n1)
	costs.valid2 = ValidMask(b.Sizes, n2)
	deg1 := ConvertDType(ReduceSum(maskColumns(a.Adjacency, costs.valid1), -1), dtype)
	deg2 := ConvertDType(ReduceSum(maskColumns(b.Adjacency, costs.valid2), -1), dtype)
	degDiff := Abs(Sub(
		BroadcastToDims(Reshape(deg1, batchSize, n1, 1), batchSize, n1, n2),
		BroadcastToDims(Reshape(deg2, batchSize, 1, n2), batchSize, n1, n2)))

	costs.substitution = MulScalar(Add(l2, MulScalar(degDiff, edgeCost/2)), 0.5)
	costs.deletion = AddScalar(MulScalar(deg1, edgeCost/2), nodeCost)
	costs.insertion = AddScalar(MulScalar(deg2, edgeCost/2), nodeCost)

	costs.validPairs = LogicalAnd(
		BroadcastToDims(Reshape(costs.valid1, batchSize, n1, 1), batchSize, n1, n2),
		BroadcastToDims(Reshape(costs.valid2, batchSize, 1, n2), batchSize, n1, n2))

	// Zero sizes are rejected before execution. Max(..., 1) only keeps the division finite.
	costs.norm = MaxScalar(ConvertDType(Add(a.Sizes, ConvertDType(b.Sizes, a.Sizes.DType())), dtype), 1.0)
	return costs
}

// aggregate sums the per-node costs of the real nodes of both sides and normalizes by the total
// number of nodes.
func (c *editCosts) aggregate(rowCosts, colCosts *Node) *Node {
	rowCosts = Where(c.valid1, rowCosts, ZerosLike(rowCosts))
	colCosts = Where(c.valid2, colCosts, ZerosLike(colCosts))
	total := Add(ReduceSum(rowCosts, -1), ReduceSum(colCosts, -1))
	return Div(total, c.norm)
}

// maskColumns zeroes the adjacency columns of padding nodes. adjacency is [batchSize, n, n] and valid is
// [batchSize, n].
func maskColumns(adjacency, valid *Node) *Node {
	dims := adjacency.Shape().Dimensions
	mask := BroadcastToDims(Reshape(valid, dims[0], 1, dims[2]), dims...)
	return Where(mask, adjacency, ZerosLike(adjacency))
}

// safeSqrt returns Sqrt(x) for x > 0 and 0 otherwise, with a finite gradient everywhere.
func safeSqrt(x *Node) *Node {
	g := x.Graph()
	positive := GreaterThan(x, ConstAsDType(g, x.DType(), 1e-12))
	safeX := Where(positive, x, OnesLike(x))
	return Where(positive, Sqrt(safeX), ZerosLike(x))
}

// appendAlternative concatenates the alternative cost (deletion or insertion) as one extra candidate at the
// end of the given axis of costs.
//
// For axis=2, costs is [batchSize, n1, n2] and alternative is [batchSize, n1]. For axis=1 alternative is
// [batchSize, n2].
func appendAlternative(costs, alternative *Node, axis int) *Node {
	dims := costs.Shape().Dimensions
	var alt *Node
	if axis == 2 {
		alt = Reshape(alternative, dims[0], dims[1], 1)
	} else {
		alt = Reshape(alternative, dims[0], 1, dims[2])
	}
	return Concatenate([]*Node{costs, alt}, axis)
}

// appendAlternativeMask extends validPairs with an always-valid candidate at the end of axis.
func appendAlternativeMask(validPairs *Node, axis int) *Node {
	g := validPairs.Graph()
	dims := validPairs.Shape().Dimensions
	var altDims []int
	if axis == 2 {
		altDims = []int{dims[0], dims[1], 1}
	} else {
		altDims = []int{dims[0], 1, dims[2]}
	}
	alwaysValid := BroadcastToDims(Const(g, true), altDims...)
	return Concatenate([]*Node{validPairs, alwaysValid}, axis)
}
