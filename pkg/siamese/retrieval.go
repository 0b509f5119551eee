// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/gomlx/ged/pkg/ged"
	"github.com/gomlx/ged/pkg/graphs"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// embeddedBatch holds the embeddings of a batch of graphs, as consumed by the retrieval step.
type embeddedBatch struct {
	embeddings, adjacency, sizes *tensors.Tensor
	classes                      []int32
	firstIndex                   int32
}

func (b *embeddedBatch) args() []any {
	return []any{b.embeddings, b.adjacency, b.sizes}
}

// embedAll embeds every batch of ds (as yielded by graphs.GraphDataset), and returns them ordered by the
// position of the graphs in the collection.
func (t *Trainer) embedAll(ds train.Dataset) ([]*embeddedBatch, error) {
	ds = t.prefetchDataset(ds)
	ds.Reset()
	defer graphs.StopPrefetch(ds)
	var batches []*embeddedBatch
	for {
		inputs, labels, err := nextBatch(ds)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(inputs) != 3 || len(labels) != 2 {
			return nil, errors.Errorf("dataset %q: graph batches must have 3 inputs and 2 labels, got %d and %d",
				ds.Name(), len(inputs), len(labels))
		}
		nodes, adjacency, sizes := inputs[0], inputs[1], inputs[2]
		if err = graphs.ValidateSizesTensor(sizes, nodes.Shape().Dimensions[1]); err != nil {
			return nil, errors.WithMessagef(err, "dataset %q", ds.Name())
		}
		embeddings, err := t.embedStep.Exec1(nodes, adjacency, sizes)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to embed graphs of dataset %q", ds.Name())
		}
		indices := tensors.MustCopyFlatData[int32](labels[1])
		batches = append(batches, &embeddedBatch{
			embeddings: embeddings,
			adjacency:  adjacency,
			sizes:      sizes,
			classes:    tensors.MustCopyFlatData[int32](labels[0]),
			firstIndex: indices[0],
		})
	}
	// Batches produced in parallel may arrive out of order.
	slices.SortFunc(batches, func(a, b *embeddedBatch) int { return int(a.firstIndex - b.firstIndex) })
	return batches, nil
}

// Test evaluates the learned distance with k-NN classification: each graph of queries is classified by the
// majority label of its k nearest graphs of gallery, for each k in ks.
//
// Both datasets must yield batches of single graphs as graphs.GraphDataset does. Every graph is embedded once.
// It returns the accuracy for each k.
func (t *Trainer) Test(queries, gallery train.Dataset, ks []int) (map[int]*Accumulator, error) {
	accuracies := make(map[int]*Accumulator, len(ks))
	for _, k := range ks {
		if k <= 0 {
			return nil, errors.Errorf("k-NN requires k > 0, got ks=%v", ks)
		}
		accuracies[k] = NewAccumulator(fmt.Sprintf("%d-NN Accuracy", k), fmt.Sprintf("acc_%dnn", k), MetricTypeAccuracy)
	}
	galleryBatches, err := t.embedAll(gallery)
	if err != nil {
		return nil, errors.WithMessage(err, "k-NN gallery")
	}
	var galleryLabels []int32
	for _, batch := range galleryBatches {
		galleryLabels = append(galleryLabels, batch.classes...)
	}
	if len(galleryLabels) == 0 {
		return nil, errors.Errorf("k-NN gallery %q is empty", gallery.Name())
	}
	queryBatches, err := t.embedAll(queries)
	if err != nil {
		return nil, errors.WithMessage(err, "k-NN queries")
	}
	klog.V(1).Infof("k-NN test: %d query batches against %d gallery graphs", len(queryBatches), len(galleryLabels))

	for _, queryBatch := range queryBatches {
		numQueries := len(queryBatch.classes)
		distances := make([][]float32, numQueries)
		for ii := range distances {
			distances[ii] = make([]float32, 0, len(galleryLabels))
		}
		for _, galleryBatch := range galleryBatches {
			args := append(queryBatch.args(), galleryBatch.args()...)
			batchDistances, err := t.retrievalStep.Exec1(args...)
			if err != nil {
				return nil, errors.WithMessage(err, "failed to compute k-NN distances")
			}
			flat := tensors.MustCopyFlatData[float32](batchDistances)
			galleryBatchSize := len(galleryBatch.classes)
			for ii := range numQueries {
				row := flat[ii*galleryBatchSize : (ii+1)*galleryBatchSize]
				for _, d := range row {
					if math.IsNaN(float64(d)) || math.IsInf(float64(d), 0) {
						return nil, errors.Errorf("non-finite distance (%g) for query %d", d, int(queryBatch.firstIndex)+ii)
					}
				}
				distances[ii] = append(distances[ii], row...)
			}
		}
		batchAccuracies, err := ged.KNNAccuracy(distances, queryBatch.classes, galleryLabels, ks)
		if err != nil {
			return nil, errors.WithMessagef(err, "k-NN of queries starting at %d", queryBatch.firstIndex)
		}
		for ii, k := range ks {
			accuracies[k].Update(batchAccuracies[ii], numQueries)
		}
	}
	return accuracies, nil
}
