// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Batch is a collection of graphs padded to a common number of nodes.
type Batch struct {
	// Nodes shaped [batchSize, maxNodes, featureDim], float32. Padding rows are zero.
	Nodes *tensors.Tensor

	// Adjacency shaped [batchSize, maxNodes, maxNodes], float32 with 0/1 values. Padding rows and columns are zero.
	Adjacency *tensors.Tensor

	// Sizes shaped [batchSize], int32: the true number of nodes of each graph.
	Sizes *tensors.Tensor

	// Labels of each graph, kept on the host.
	Labels []int
}

// Size returns the number of graphs in the batch.
func (b *Batch) Size() int { return len(b.Labels) }

// Tensors returns the input tensors in the order consumed by the models: nodes, adjacency, sizes.
func (b *Batch) Tensors() []*tensors.Tensor {
	return []*tensors.Tensor{b.Nodes, b.Adjacency, b.Sizes}
}

// PaddedSize returns the number of node positions to use for a batch whose largest graph has maxNodes nodes.
//
// With bucket <= 0 it returns maxNodes itself. Otherwise, it rounds up to the next power of 2 that is at least
// bucket: this limits the number of distinct shapes, and hence of JIT-compiled graphs.
func PaddedSize(maxNodes, bucket int) int {
	if bucket <= 0 {
		return maxNodes
	}
	padded := bucket
	for padded < maxNodes {
		padded *= 2
	}
	return padded
}

// ValidateSizes checks that every true size is at least 1 and at most maxNodes.
func ValidateSizes(sizes []int32, maxNodes int) error {
	for ii, size := range sizes {
		if size <= 0 {
			return errors.Errorf("graph #%d of the batch has true size %d: graphs must have at least one node", ii, size)
		}
		if int(size) > maxNodes {
			return errors.Errorf("graph #%d of the batch has true size %d, larger than the padded size %d", ii, size, maxNodes)
		}
	}
	return nil
}

// ValidateSizesTensor is like ValidateSizes, but takes the sizes tensor of a batch.
func ValidateSizesTensor(sizes *tensors.Tensor, maxNodes int) error {
	if sizes.Rank() != 1 {
		return errors.Errorf("sizes must be a vector, got shape %s", sizes.Shape())
	}
	return ValidateSizes(tensors.MustCopyFlatData[int32](sizes), maxNodes)
}

// Collate pads the graphs into a Batch. The number of node positions is the largest true size in the
// collection, rounded up with PaddedSize(maxNodes, bucket).
//
// It returns an error if the collection is empty, if any graph is invalid (in particular graphs with no nodes)
// or if feature dimensions differ.
func Collate(collection []*Graph, bucket int) (*Batch, error) {
	if len(collection) == 0 {
		return nil, errors.New("cannot collate an empty collection of graphs")
	}
	if err := ValidateAll(collection); err != nil {
		return nil, errors.WithMessage(err, "failed to collate graphs")
	}
	batchSize := len(collection)
	featureDim := collection[0].FeatureDim()
	maxNodes := 0
	for _, g := range collection {
		maxNodes = max(maxNodes, g.NumNodes())
	}
	maxNodes = PaddedSize(maxNodes, bucket)

	nodes := make([]float32, batchSize*maxNodes*featureDim)
	adjacency := make([]float32, batchSize*maxNodes*maxNodes)
	sizes := make([]int32, batchSize)
	labels := make([]int, batchSize)
	for b, g := range collection {
		sizes[b] = int32(g.NumNodes())
		labels[b] = g.Label
		nodesBase := b * maxNodes * featureDim
		for ii, features := range g.Nodes {
			copy(nodes[nodesBase+ii*featureDim:], features)
		}
		adjBase := b * maxNodes * maxNodes
		for _, e := range g.Edges {
			u, v := e[0], e[1]
			if u == v {
				continue
			}
			adjacency[adjBase+u*maxNodes+v] = 1
			adjacency[adjBase+v*maxNodes+u] = 1
		}
	}
	return &Batch{
		Nodes:     tensors.FromFlatDataAndDimensions(nodes, batchSize, maxNodes, featureDim),
		Adjacency: tensors.FromFlatDataAndDimensions(adjacency, batchSize, maxNodes, maxNodes),
		Sizes:     tensors.FromFlatDataAndDimensions(sizes, batchSize),
		Labels:    labels,
	}, nil
}
