// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	"math"
	"slices"
	"sort"

	"github.com/pkg/errors"
)

// DefaultKs are the neighborhood sizes evaluated by retrieval by default.
var DefaultKs = []int{1, 3, 5}

// KNN classifies one query by majority vote among its nearest gallery graphs, for each of the ks.
//
// distances[i] is the distance from the query to the gallery graph i, whose class is labels[i]. Ties in
// distance are broken by the gallery index (lower first). Ties in the vote go to the tied label whose
// nearest occurrence ranks first, so for k=1 the prediction is always the label of the nearest neighbor.
//
// It returns one predicted label per k. ks larger than the gallery use the whole gallery.
func KNN(distances []float32, labels []int32, ks []int) ([]int32, error) {
	if len(distances) != len(labels) {
		return nil, errors.Errorf("KNN got %d distances but %d labels", len(distances), len(labels))
	}
	if len(distances) == 0 {
		return nil, errors.New("KNN requires a non-empty gallery")
	}
	maxK := 0
	for _, k := range ks {
		if k <= 0 {
			return nil, errors.Errorf("KNN requires k > 0, got ks=%v", ks)
		}
		maxK = max(maxK, k)
	}
	for ii, d := range distances {
		if math.IsNaN(float64(d)) {
			return nil, errors.Errorf("KNN got distance NaN for gallery index %d", ii)
		}
	}

	order := make([]int, len(distances))
	for ii := range order {
		order[ii] = ii
	}
	sort.SliceStable(order, func(i, j int) bool {
		return distances[order[i]] < distances[order[j]]
	})
	order = order[:min(maxK, len(order))]

	predictions := make([]int32, len(ks))
	for ii, k := range ks {
		predictions[ii] = majorityVote(order[:min(k, len(order))], labels)
	}
	return predictions, nil
}

// majorityVote over the labels of the ranked neighbors.
func majorityVote(ranked []int, labels []int32) int32 {
	counts := make(map[int32]int, len(ranked))
	firstRank := make(map[int32]int, len(ranked))
	var candidates []int32
	for rank, idx := range ranked {
		label := labels[idx]
		if _, found := counts[label]; !found {
			firstRank[label] = rank
			candidates = append(candidates, label)
		}
		counts[label]++
	}
	return slices.MinFunc(candidates, func(a, b int32) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return firstRank[a] - firstRank[b]
	})
}

// KNNAccuracy returns, for each k, the fraction of queries whose KNN prediction matches their label.
//
// distances is the [numQueries][gallerySize] distance matrix.
func KNNAccuracy(distances [][]float32, queryLabels, galleryLabels []int32, ks []int) ([]float64, error) {
	if len(distances) != len(queryLabels) {
		return nil, errors.Errorf("KNNAccuracy got %d rows of distances but %d query labels",
			len(distances), len(queryLabels))
	}
	correct := make([]int, len(ks))
	for q, row := range distances {
		predictions, err := KNN(row, galleryLabels, ks)
		if err != nil {
			return nil, errors.WithMessagef(err, "query #%d", q)
		}
		for ii, p := range predictions {
			if p == queryLabels[q] {
				correct[ii]++
			}
		}
	}
	accuracies := make([]float64, len(ks))
	if len(distances) == 0 {
		return accuracies, nil
	}
	for ii, c := range correct {
		accuracies[ii] = float64(c) / float64(len(distances))
	}
	return accuracies, nil
}
