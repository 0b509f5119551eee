// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ged implements a learned graph edit distance: graphs are embedded node-wise by an Embedder
// (a message-passing network), and pairs of embedded graphs are compared with a bipartite-matching
// style aggregation (Hd, or its differentiable relaxation SoftHd).
//
// It also includes the contrastive loss and the siamese accuracy used to train it, and the k-NN vote
// used to evaluate retrieval.
//
// All graph functions take padded batches: padding positions (node index >= true size) never influence the
// results or the gradients of the real nodes.
package ged

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Embedder maps a padded graph batch to per-node embeddings.
//
// nodes is shaped [batchSize, maxNodes, featureDim], adjacency is [batchSize, maxNodes, maxNodes] and sizes
// (the true number of nodes) is [batchSize]. It must return embeddings shaped [batchSize, maxNodes, embeddingDim].
// Values at padding positions are irrelevant.
type Embedder interface {
	Embed(ctx *context.Context, nodes, adjacency, sizes *Node) *Node
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx *context.Context, nodes, adjacency, sizes *Node) *Node

// Embed implements Embedder.
func (fn EmbedderFunc) Embed(ctx *context.Context, nodes, adjacency, sizes *Node) *Node {
	return fn(ctx, nodes, adjacency, sizes)
}

// Embedded is one side of a graph pair, after embedding.
type Embedded struct {
	// Nodes embeddings shaped [batchSize, maxNodes, embeddingDim].
	Nodes *Node

	// Adjacency shaped [batchSize, maxNodes, maxNodes].
	Adjacency *Node

	// Sizes are the true number of nodes, shaped [batchSize].
	Sizes *Node
}

// BatchSize of the embedded graphs.
func (e Embedded) BatchSize() int { return e.Nodes.Shape().Dimensions[0] }

// MaxNodes is the padded number of nodes.
func (e Embedded) MaxNodes() int { return e.Nodes.Shape().Dimensions[1] }

// Check panics with a descriptive message if shapes are not consistent.
func (e Embedded) Check() {
	if e.Nodes == nil || e.Adjacency == nil || e.Sizes == nil {
		Panicf("Embedded graphs require Nodes, Adjacency and Sizes to be set")
	}
	if e.Nodes.Rank() != 3 {
		Panicf("embedded nodes must be shaped [batchSize, maxNodes, dim], got %s", e.Nodes.Shape())
	}
	batchSize, maxNodes := e.BatchSize(), e.MaxNodes()
	if e.Adjacency.Rank() != 3 || e.Adjacency.Shape().Dimensions[0] != batchSize ||
		e.Adjacency.Shape().Dimensions[1] != maxNodes || e.Adjacency.Shape().Dimensions[2] != maxNodes {
		Panicf("adjacency must be shaped [%d, %d, %d], got %s", batchSize, maxNodes, maxNodes, e.Adjacency.Shape())
	}
	if e.Sizes.Rank() != 1 || e.Sizes.Shape().Dimensions[0] != batchSize {
		Panicf("sizes must be shaped [%d], got %s", batchSize, e.Sizes.Shape())
	}
}

// ExpandTo broadcasts a single embedded graph (batchSize=1) to batchSize copies, without copying data
// in the host.
func (e Embedded) ExpandTo(batchSize int) Embedded {
	e.Check()
	if e.BatchSize() != 1 {
		Panicf("ExpandTo requires a single graph (batchSize=1), got batchSize=%d", e.BatchSize())
	}
	nodesDims := e.Nodes.Shape().Dimensions
	maxNodes := e.MaxNodes()
	return Embedded{
		Nodes:     BroadcastToDims(e.Nodes, batchSize, nodesDims[1], nodesDims[2]),
		Adjacency: BroadcastToDims(e.Adjacency, batchSize, maxNodes, maxNodes),
		Sizes:     BroadcastToDims(e.Sizes, batchSize),
	}
}

// EmbedBatch runs the embedder on a padded batch and installs the padding gradient interception
// (see InterceptPaddingGradient) on its output.
func EmbedBatch(ctx *context.Context, embedder Embedder, nodes, adjacency, sizes *Node) Embedded {
	embeddings := embedder.Embed(ctx, nodes, adjacency, sizes)
	if embeddings.Rank() != 3 || embeddings.Shape().Dimensions[0] != nodes.Shape().Dimensions[0] ||
		embeddings.Shape().Dimensions[1] != nodes.Shape().Dimensions[1] {
		Panicf("embedder returned embeddings shaped %s for nodes shaped %s: it must preserve the batch and node axes",
			embeddings.Shape(), nodes.Shape())
	}
	e := Embedded{
		Nodes:     InterceptPaddingGradient(embeddings, sizes),
		Adjacency: adjacency,
		Sizes:     sizes,
	}
	e.Check()
	return e
}
