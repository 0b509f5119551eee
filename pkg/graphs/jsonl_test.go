// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONL(t *testing.T) {
	input := `{"label": 3, "nodes": [[0.1, 0.2], [0.5, 1.0]], "edges": [[0, 1]]}
{"label": 1, "nodes": [[1, 1]], "edges": []}
`
	collection, err := ReadJSONL(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, collection, 2)
	assert.Equal(t, 3, collection[0].Label)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.5, 1.0}}, collection[0].Nodes)
	assert.Equal(t, [][2]int{{0, 1}}, collection[0].Edges)
	assert.Equal(t, 1, collection[1].NumNodes())

	_, err = ReadJSONL(strings.NewReader(`{"label": 0, "nodes": [], "edges": []}`))
	require.Error(t, err)
	_, err = ReadJSONL(strings.NewReader(`{"label": 0, "nodes": [[1]], "edges": [[0, 1]]}`))
	require.Error(t, err)
	_, err = ReadJSONL(strings.NewReader(`{"label": `))
	require.Error(t, err)
}

func TestLoadSplits(t *testing.T) {
	dir := t.TempDir()
	original := LetterSplits(2, 1, 1, 0.1, 7)
	for name, collection := range map[string][]*Graph{
		SplitTrain: original.Train,
		SplitValid: original.Valid,
		SplitTest:  original.Test,
	} {
		var buf bytes.Buffer
		require.NoError(t, WriteJSONL(&buf, collection))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".jsonl"), buf.Bytes(), 0644))
	}
	splits, err := LoadSplits(dir)
	require.NoError(t, err)
	assert.Equal(t, original.Train, splits.Train)
	assert.Equal(t, original.Valid, splits.Valid)
	assert.Equal(t, original.Test, splits.Test)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SplitTest+".jsonl"), nil, 0644))
	_, err = LoadSplits(dir)
	require.Error(t, err, "empty splits must be rejected")
	_, err = LoadSplits(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
