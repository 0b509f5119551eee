// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstIndices returns the first graph index of each batch yielded by a GraphDataset, in order.
func firstIndices(t *testing.T, ds train.Dataset) []int32 {
	var indices []int32
	for {
		_, _, labels, err := ds.Yield()
		if err == io.EOF {
			return indices
		}
		require.NoError(t, err)
		indices = append(indices, tensors.MustCopyFlatData[int32](labels[1])[0])
	}
}

func TestReadAheadKeepsOrder(t *testing.T) {
	config := DefaultLettersConfig()
	config.PerClass = 2
	collection := Letters(config)
	ds := ReadAhead(NewGraphDataset("letters", collection, 3), 4)
	defer StopPrefetch(ds)
	want := make([]int32, 0, len(collection)/3)
	for start := 0; start < len(collection); start += 3 {
		want = append(want, int32(start))
	}
	for range 3 {
		ds.Reset()
		assert.Equal(t, want, firstIndices(t, ds))
	}
}

func TestPrefetchStopAndReuse(t *testing.T) {
	config := DefaultLettersConfig()
	config.PerClass = 2
	collection := Letters(config)
	ds := Prefetch(NewGraphDataset("letters", collection, 2), 2)

	// Stop in the middle of a pass, and after a full pass: neither blocks, and the dataset is reusable.
	ds.Reset()
	_, _, _, err := ds.Yield()
	require.NoError(t, err)
	StopPrefetch(ds)
	for range 2 {
		ds.Reset()
		assert.Len(t, firstIndices(t, ds), len(collection)/2)
		StopPrefetch(ds)
	}
}

func TestPrefetchSourceError(t *testing.T) {
	pairs := []Pair{
		{A: triangle(0), B: triangle(0), Same: true},
		{A: triangle(0), B: &Graph{Label: 1}, Same: false},
		{A: segment(1), B: segment(1), Same: true},
	}
	for _, ds := range []train.Dataset{
		Prefetch(NewPairDataset("with_empty_graph", pairs, 1), 2),
		ReadAhead(NewPairDataset("with_empty_graph", pairs, 1), 2),
	} {
		for range 2 {
			ds.Reset()
			var err error
			for err == nil {
				_, _, _, err = ds.Yield()
			}
			require.NotErrorIs(t, err, io.EOF, "the invalid graph must be reported")
			assert.Contains(t, err.Error(), "no nodes")
		}
		StopPrefetch(ds)
	}
}
