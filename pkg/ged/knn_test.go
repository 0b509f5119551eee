// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ged

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKNN(t *testing.T) {
	// 5 gallery graphs, 2 classes.
	galleryLabels := []int32{0, 0, 1, 1, 1}
	distances := [][]float32{
		{0.1, 0.9, 0.2, 0.3, 0.8}, // nearest is class 0; 3-NN: 0,1,1 -> 1; 5-NN: 1.
		{0.5, 0.4, 0.1, 0.9, 0.9}, // nearest is class 1; 3-NN: 1,0,0 -> 0.
		{0.3, 0.3, 0.3, 0.3, 0.3}, // all tied: index order 0,0,1,1,1.
		{2.0, 1.0, 0.5, 0.6, 3.0}, // nearest is class 1.
	}
	queryLabels := []int32{0, 0, 0, 1}

	predictions, err := KNN(distances[0], galleryLabels, DefaultKs)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 1}, predictions)

	predictions, err = KNN(distances[1], galleryLabels, DefaultKs)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0, 1}, predictions)

	predictions, err = KNN(distances[2], galleryLabels, DefaultKs)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 1}, predictions)

	accuracies, err := KNNAccuracy(distances, queryLabels, galleryLabels, DefaultKs)
	require.NoError(t, err)
	// k=1: queries 0, 2 and 3 match their nearest neighbor's class.
	assert.InDelta(t, 0.75, accuracies[0], 1e-9)
	// k=3: queries 1, 2 and 3.
	assert.InDelta(t, 0.75, accuracies[1], 1e-9)
	// k=5: class 1 always wins, only query 3.
	assert.InDelta(t, 0.25, accuracies[2], 1e-9)
}

func TestKNNVoteTies(t *testing.T) {
	// With k=2 and one neighbor per class, the nearest neighbor's label wins.
	predictions, err := KNN([]float32{0.4, 0.2, 0.9}, []int32{3, 7, 3}, []int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 3}, predictions, "k larger than the gallery uses the whole gallery")
}

func TestKNNErrors(t *testing.T) {
	_, err := KNN([]float32{0.1}, []int32{0, 1}, DefaultKs)
	require.Error(t, err)
	_, err = KNN(nil, nil, DefaultKs)
	require.Error(t, err)
	_, err = KNN([]float32{0.1}, []int32{0}, []int{0})
	require.Error(t, err)
	_, err = KNN([]float32{0.1, float32(math.NaN())}, []int32{0, 1}, DefaultKs)
	require.Error(t, err)
}
