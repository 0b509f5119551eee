// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mpnn implements a message-passing neural network over padded dense graph batches, used as the
// node embedder of the learned graph edit distance.
//
// Each round of graph update computes a message per node, pools the messages of the neighbors through
// the adjacency matrix and updates the node state with a residual dense layer followed by a (masked)
// normalization. A final readout layer projects the states to the embedding dimension.
//
// All hyperparameters are read from the context, see the Param* constants.
package mpnn

import (
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/ged/pkg/ged"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

const (
	// ParamNumLayers is the number of rounds of message passing. Default is 2.
	ParamNumLayers = "mpnn_num_layers"

	// ParamHiddenDim is the dimension of the messages and node states. Default is 64.
	ParamHiddenDim = "mpnn_hidden_dim"

	// ParamEmbeddingDim is the dimension of the final node embeddings. Default is 64.
	ParamEmbeddingDim = "mpnn_embedding_dim"

	// ParamPoolingType defines how incoming messages are pooled: "sum", "mean" or both separated by "|".
	// Default is "sum".
	ParamPoolingType = "mpnn_pooling_type"

	// ParamResidual enables the residual connection of the state updates. Default is true.
	ParamResidual = "mpnn_residual"
)

// Model is the message-passing embedder. It implements ged.Embedder.
type Model struct{}

var _ ged.Embedder = (*Model)(nil)

// New returns a new message-passing embedder. Its variables are created under the context scope given to Embed.
func New() *Model { return &Model{} }

// Embed implements ged.Embedder.
func (m *Model) Embed(ctx *context.Context, nodes, adjacency, sizes *Node) *Node {
	if nodes.Rank() != 3 {
		Panicf("mpnn: nodes must be shaped [batchSize, maxNodes, featureDim], got %s", nodes.Shape())
	}
	batchSize, maxNodes := nodes.Shape().Dimensions[0], nodes.Shape().Dimensions[1]
	if err := adjacency.Shape().CheckDims(batchSize, maxNodes, maxNodes); err != nil {
		Panicf("mpnn: adjacency doesn't match nodes shaped %s: %v", nodes.Shape(), err)
	}
	numLayers := context.GetParamOr(ctx, ParamNumLayers, 2)
	hiddenDim := context.GetParamOr(ctx, ParamHiddenDim, 64)
	embeddingDim := context.GetParamOr(ctx, ParamEmbeddingDim, 64)

	mask := ged.ValidMask(sizes, maxNodes)
	adjacency = maskAdjacency(ConvertDType(adjacency, nodes.DType()), mask)

	state := layers.DenseWithBias(ctx.In("input"), nodes, hiddenDim)
	state = activations.ApplyFromContext(ctx, state)
	state = zeroPadding(state, mask)
	for round := range numLayers {
		roundCtx := ctx.Inf("graph_update_%d", round)
		pooled := convolve(roundCtx.In("conv"), state, adjacency, mask)
		state = updateState(roundCtx.In("update"), state, Concatenate([]*Node{state, pooled}, -1), mask)
	}
	embeddings := layers.DenseWithBias(ctx.In("readout"), state, embeddingDim)
	return zeroPadding(embeddings, mask)
}

// convolve computes the messages of every node and pools them over the neighbors of each node.
func convolve(ctx *context.Context, state, adjacency, mask *Node) *Node {
	hiddenDim := context.GetParamOr(ctx, ParamHiddenDim, 64)
	messages := layers.DenseWithBias(ctx.In("message"), state, hiddenDim)
	messages = activations.ApplyFromContext(ctx, messages)
	messages = zeroPadding(messages, mask)
	return poolMessages(ctx, messages, adjacency)
}

// poolMessages aggregates the messages [batchSize, maxNodes, dim] of the neighbors given by adjacency
// [batchSize, maxNodes, maxNodes], according to ParamPoolingType.
//
// There are no training variables here, the ctx is only used for the hyperparameter configuration.
func poolMessages(ctx *context.Context, messages, adjacency *Node) *Node {
	poolTypes := context.GetParamOr(ctx, ParamPoolingType, "sum")
	sum := Einsum("bij,bjd->bid", adjacency, messages)
	var parts []*Node
	for _, poolType := range strings.Split(poolTypes, "|") {
		switch poolType {
		case "sum":
			parts = append(parts, sum)
		case "mean":
			degree := MaxScalar(ReduceSum(adjacency, -1), 1)
			dims := sum.Shape().Dimensions
			degree = BroadcastToDims(Reshape(degree, dims[0], dims[1], 1), dims...)
			parts = append(parts, Div(sum, degree))
		default:
			Panicf("unknown message pooling type %q given in context parameter %q (value %q) -- valid values are "+
				"sum and mean, or both separated by '|'", poolType, ParamPoolingType, poolTypes)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return Concatenate(parts, -1)
}

// updateState computes the new node states from the input (previous state concatenated with the pooled
// messages).
func updateState(ctx *context.Context, prevState, input, mask *Node) *Node {
	hiddenDim := context.GetParamOr(ctx, ParamHiddenDim, 64)
	input = layers.DropoutFromContext(ctx, input)
	state := layers.DenseWithBias(ctx, input, hiddenDim)
	state = activations.ApplyFromContext(ctx, state)
	if context.GetParamOr(ctx, ParamResidual, true) && prevState.Shape().Equal(state.Shape()) {
		state = Add(state, prevState)
	}
	state = layers.MaskedNormalizeFromContext(ctx.In("normalization"), state, mask)
	return zeroPadding(state, mask)
}

// maskAdjacency removes any edge touching a padding node.
func maskAdjacency(adjacency, mask *Node) *Node {
	dims := adjacency.Shape().Dimensions
	rows := BroadcastToDims(Reshape(mask, dims[0], dims[1], 1), dims...)
	cols := BroadcastToDims(Reshape(mask, dims[0], 1, dims[2]), dims...)
	return Where(LogicalAnd(rows, cols), adjacency, ZerosLike(adjacency))
}

// zeroPadding sets the states of padding nodes to 0. x is [batchSize, maxNodes, dim].
func zeroPadding(x, mask *Node) *Node {
	dims := x.Shape().Dimensions
	broadcastMask := BroadcastToDims(Reshape(mask, dims[0], dims[1], 1), dims...)
	return Where(broadcastMask, x, ZerosLike(x))
}
