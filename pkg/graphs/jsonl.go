// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Split names used by LoadSplits.
const (
	SplitTrain = "train"
	SplitValid = "valid"
	SplitTest  = "test"
)

// Splits holds the three partitions of a dataset.
type Splits struct {
	Train, Valid, Test []*Graph
}

// ReadJSONL decodes one Graph per JSON value from r, e.g.:
//
//	{"label": 3, "nodes": [[0.1, 0.2], [0.5, 1.0]], "edges": [[0, 1]]}
//
// Graphs are validated as they are read.
func ReadJSONL(r io.Reader) ([]*Graph, error) {
	dec := json.NewDecoder(r)
	var collection []*Graph
	for {
		g := &Graph{}
		err := dec.Decode(g)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode graph #%d", len(collection))
		}
		if err = g.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "invalid graph #%d", len(collection))
		}
		collection = append(collection, g)
	}
	return collection, nil
}

// LoadJSONL reads a file in the format described in ReadJSONL.
func LoadJSONL(filePath string) ([]*Graph, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open graphs file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	collection, err := ReadJSONL(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", filePath)
	}
	return collection, nil
}

// LoadSplits reads train.jsonl, valid.jsonl and test.jsonl from dir.
func LoadSplits(dir string) (*Splits, error) {
	splits := &Splits{}
	for _, s := range []struct {
		name string
		dst  *[]*Graph
	}{
		{SplitTrain, &splits.Train},
		{SplitValid, &splits.Valid},
		{SplitTest, &splits.Test},
	} {
		collection, err := LoadJSONL(filepath.Join(dir, s.name+".jsonl"))
		if err != nil {
			return nil, err
		}
		if len(collection) == 0 {
			return nil, errors.Errorf("split %q in %q is empty", s.name, dir)
		}
		*s.dst = collection
		klog.V(1).Infof("loaded %d graphs for split %q", len(collection), s.name)
	}
	all := make([]*Graph, 0, len(splits.Train)+len(splits.Valid)+len(splits.Test))
	all = append(all, splits.Train...)
	all = append(all, splits.Valid...)
	all = append(all, splits.Test...)
	if err := ValidateAll(all); err != nil {
		return nil, errors.WithMessagef(err, "splits in %q are not consistent", dir)
	}
	return splits, nil
}

// WriteJSONL encodes the graphs one per line.
func WriteJSONL(w io.Writer, collection []*Graph) error {
	enc := json.NewEncoder(w)
	for ii, g := range collection {
		if err := enc.Encode(g); err != nil {
			return errors.Wrapf(err, "failed to encode graph #%d", ii)
		}
	}
	return nil
}
