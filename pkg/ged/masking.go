// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// PaddingMask returns a boolean mask shaped [batchSize, maxNodes] that is true at the padding positions,
// that is, at node indices >= the true size of the graph.
//
// sizes must be an integer vector shaped [batchSize].
func PaddingMask(sizes *Node, maxNodes int) *Node {
	if sizes.Rank() != 1 {
		Panicf("PaddingMask requires sizes to be a vector shaped [batchSize], got %s", sizes.Shape())
	}
	if !sizes.DType().IsInt() {
		Panicf("PaddingMask requires integer sizes, got %s", sizes.DType())
	}
	g := sizes.Graph()
	batchSize := sizes.Shape().Dimensions[0]
	positions := Iota(g, shapes.Make(sizes.DType(), batchSize, maxNodes), 1)
	sizes = BroadcastToDims(Reshape(sizes, batchSize, 1), batchSize, maxNodes)
	return GreaterOrEqual(positions, sizes)
}

// ValidMask is the negation of PaddingMask: true for the real nodes of each graph.
func ValidMask(sizes *Node, maxNodes int) *Node {
	return LogicalNot(PaddingMask(sizes, maxNodes))
}

// MaskPaddingGradient zeroes the gradient at padding positions.
//
// grad is shaped [batchSize, maxNodes, embeddingDim] and paddingMask is [batchSize, maxNodes] (see PaddingMask),
// and it is broadcast over the embedding axis.
func MaskPaddingGradient(grad, paddingMask *Node) *Node {
	if grad.Rank() != 3 || paddingMask.Rank() != 2 ||
		grad.Shape().Dimensions[0] != paddingMask.Shape().Dimensions[0] ||
		grad.Shape().Dimensions[1] != paddingMask.Shape().Dimensions[1] {
		Panicf("MaskPaddingGradient requires grad shaped [batchSize, maxNodes, dim] and mask [batchSize, maxNodes], "+
			"got grad.shape=%s and mask.shape=%s", grad.Shape(), paddingMask.Shape())
	}
	dims := grad.Shape().Dimensions
	mask := BroadcastToDims(Reshape(paddingMask, dims[0], dims[1], 1), dims...)
	return Where(mask, ZerosLike(grad), grad)
}

// InterceptPaddingGradient is the identity in the forward pass. In the backward pass it replaces the incoming
// gradient of embeddings with MaskPaddingGradient, so padding nodes never propagate gradient into the model
// that produced them.
//
// embeddings is shaped [batchSize, maxNodes, embeddingDim] and sizes is [batchSize].
func InterceptPaddingGradient(embeddings, sizes *Node) *Node {
	if embeddings.Rank() != 3 {
		Panicf("InterceptPaddingGradient requires embeddings shaped [batchSize, maxNodes, dim], got %s",
			embeddings.Shape())
	}
	mask := PaddingMask(sizes, embeddings.Shape().Dimensions[1])
	return IdentityWithCustomGradient(embeddings, func(_, v *Node) *Node {
		return MaskPaddingGradient(v, mask)
	})
}
