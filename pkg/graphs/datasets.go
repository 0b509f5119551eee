// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Pair of graphs for siamese training. Same is true if both graphs are of the same class.
type Pair struct {
	A, B *Graph
	Same bool
}

// MakePairs creates a balanced set of pairs: for every graph it adds one pair with another graph of the same
// class (if there is one) and one pair with a graph of a different class (if there is one).
func MakePairs(collection []*Graph, seed uint64) []Pair {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	byLabel := make(map[int][]int)
	for ii, g := range collection {
		byLabel[g.Label] = append(byLabel[g.Label], ii)
	}
	pairs := make([]Pair, 0, 2*len(collection))
	for ii, g := range collection {
		same := byLabel[g.Label]
		if len(same) > 1 {
			jj := same[rng.IntN(len(same))]
			for jj == ii {
				jj = same[rng.IntN(len(same))]
			}
			pairs = append(pairs, Pair{A: g, B: collection[jj], Same: true})
		}
		if len(same) < len(collection) {
			jj := rng.IntN(len(collection))
			for collection[jj].Label == g.Label {
				jj = rng.IntN(len(collection))
			}
			pairs = append(pairs, Pair{A: g, B: collection[jj], Same: false})
		}
	}
	return pairs
}

// PairDataset yields batches of siamese pairs.
//
// Inputs are [nodes1, adjacency1, sizes1, nodes2, adjacency2, sizes2], and the only label is the target
// (float32, 1 for same class and 0 for different class), all with batch as the leading axis.
//
// It is safe for concurrent use, so it can be wrapped by Prefetch.
type PairDataset struct {
	name      string
	pairs     []Pair
	batchSize int
	bucket    int

	mu      sync.Mutex
	order   []int
	pos     int
	shuffle *rand.Rand
}

var _ train.Dataset = (*PairDataset)(nil)

// NewPairDataset creates a dataset over the given pairs.
// The last batch may be smaller than batchSize.
func NewPairDataset(name string, pairs []Pair, batchSize int) *PairDataset {
	ds := &PairDataset{
		name:      name,
		pairs:     pairs,
		batchSize: batchSize,
		order:     make([]int, len(pairs)),
	}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	return ds
}

// Shuffle the order of the pairs at every Reset, using the given seed.
func (ds *PairDataset) Shuffle(seed uint64) *PairDataset {
	ds.shuffle = rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	ds.shuffle.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	return ds
}

// Bucket sets the padding bucket, see PaddedSize.
func (ds *PairDataset) Bucket(bucket int) *PairDataset {
	ds.bucket = bucket
	return ds
}

// Name implements train.Dataset.
func (ds *PairDataset) Name() string { return ds.name }

// NumPairs in the dataset.
func (ds *PairDataset) NumPairs() int { return len(ds.pairs) }

// NumBatches per epoch.
func (ds *PairDataset) NumBatches() int { return (len(ds.pairs) + ds.batchSize - 1) / ds.batchSize }

// Reset implements train.Dataset.
func (ds *PairDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pos = 0
	if ds.shuffle != nil {
		ds.shuffle.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	}
}

// Yield implements train.Dataset.
func (ds *PairDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if ds.pos >= len(ds.order) {
		ds.mu.Unlock()
		err = io.EOF
		return
	}
	end := min(ds.pos+ds.batchSize, len(ds.order))
	indices := slices.Clone(ds.order[ds.pos:end])
	ds.pos = end
	ds.mu.Unlock()

	sideA := make([]*Graph, len(indices))
	sideB := make([]*Graph, len(indices))
	targets := make([]float32, len(indices))
	for ii, idx := range indices {
		p := ds.pairs[idx]
		sideA[ii], sideB[ii] = p.A, p.B
		if p.Same {
			targets[ii] = 1
		}
	}
	batchA, err := Collate(sideA, ds.bucket)
	if err != nil {
		err = errors.WithMessagef(err, "dataset %q, first graph of the pairs", ds.name)
		return
	}
	batchB, err := Collate(sideB, ds.bucket)
	if err != nil {
		err = errors.WithMessagef(err, "dataset %q, second graph of the pairs", ds.name)
		return
	}
	inputs = append(batchA.Tensors(), batchB.Tensors()...)
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(targets, len(targets))}
	return
}

// GraphDataset yields batches of single graphs, in order.
//
// Inputs are [nodes, adjacency, sizes], labels are [classes, indices], both int32 shaped [batchSize]. The indices
// are the positions of the graphs in the collection, so consumers can restore the original order when batches are
// generated in parallel.
type GraphDataset struct {
	name       string
	collection []*Graph
	batchSize  int
	bucket     int

	mu  sync.Mutex
	pos int
}

var _ train.Dataset = (*GraphDataset)(nil)

// NewGraphDataset creates a dataset over the collection.
func NewGraphDataset(name string, collection []*Graph, batchSize int) *GraphDataset {
	return &GraphDataset{name: name, collection: collection, batchSize: batchSize}
}

// Bucket sets the padding bucket, see PaddedSize.
func (ds *GraphDataset) Bucket(bucket int) *GraphDataset {
	ds.bucket = bucket
	return ds
}

// Name implements train.Dataset.
func (ds *GraphDataset) Name() string { return ds.name }

// Len returns the number of graphs.
func (ds *GraphDataset) Len() int { return len(ds.collection) }

// Reset implements train.Dataset.
func (ds *GraphDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pos = 0
}

// Yield implements train.Dataset.
func (ds *GraphDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if ds.pos >= len(ds.collection) {
		ds.mu.Unlock()
		err = io.EOF
		return
	}
	start := ds.pos
	end := min(start+ds.batchSize, len(ds.collection))
	ds.pos = end
	ds.mu.Unlock()

	batch, err := Collate(ds.collection[start:end], ds.bucket)
	if err != nil {
		err = errors.WithMessagef(err, "dataset %q, graphs %d to %d", ds.name, start, end)
		return
	}
	classes := make([]int32, end-start)
	indices := make([]int32, end-start)
	for ii := range classes {
		classes[ii] = int32(batch.Labels[ii])
		indices[ii] = int32(start + ii)
	}
	inputs = batch.Tensors()
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(classes, len(classes)),
		tensors.FromFlatDataAndDimensions(indices, len(indices)),
	}
	return
}
