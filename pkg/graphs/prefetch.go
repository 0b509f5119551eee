// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Prefetched generates the batches of a dataset in background goroutines, using a datasets.ParallelDataset.
//
// It is created once and reused across epochs with Reset. The background workers are started by the first
// Reset (or Yield), and each pass ends when the source returns io.EOF. An error yielded by the source ends
// the pass: Yield returns that error, and the next Reset starts over.
//
// Yield and Reset must be called from a single goroutine.
type Prefetched struct {
	source  *guardedDataset
	workers int
	ordered bool
	pd      train.Dataset
}

var _ train.Dataset = (*Prefetched)(nil)

// Prefetch wraps ds with workers goroutines generating batches in the background.
// The order of the batches is not preserved. If workers <= 0, ds is returned as is.
func Prefetch(ds train.Dataset, workers int) train.Dataset {
	if workers <= 0 {
		return ds
	}
	return &Prefetched{source: &guardedDataset{Dataset: ds}, workers: workers}
}

// ReadAhead wraps ds with one goroutine generating up to bufferSize batches ahead. The order of the
// batches is preserved. If bufferSize <= 0, ds is returned as is.
func ReadAhead(ds train.Dataset, bufferSize int) train.Dataset {
	if bufferSize <= 0 {
		return ds
	}
	return &Prefetched{source: &guardedDataset{Dataset: ds}, workers: bufferSize, ordered: true}
}

// StopPrefetch ends the current pass of a dataset created by Prefetch or ReadAhead, so its workers exit.
// It is a no-op for other datasets. The dataset can still be reused with Reset.
func StopPrefetch(ds train.Dataset) {
	if p, ok := ds.(*Prefetched); ok {
		p.Stop()
	}
}

// Name implements train.Dataset.
func (p *Prefetched) Name() string { return p.source.Name() }

func (p *Prefetched) start() {
	if p.ordered {
		p.pd = datasets.ReadAhead(p.source, p.workers)
		return
	}
	p.pd = datasets.CustomParallel(p.source).Parallelism(p.workers).Buffer(p.workers).Start()
}

// Reset implements train.Dataset. The underlying ParallelDataset resets the source once its workers stopped.
func (p *Prefetched) Reset() {
	if p.pd == nil {
		p.source.Reset()
		p.start()
		return
	}
	p.pd.Reset()
}

// Yield implements train.Dataset.
func (p *Prefetched) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if p.pd == nil {
		p.start()
	}
	if err = p.source.failure(); err != nil {
		return
	}
	spec, inputs, labels, err = p.pd.Yield()
	if err == io.EOF {
		if failure := p.source.failure(); failure != nil {
			err = failure
		}
	}
	return
}

// Stop ends the current pass: the workers see io.EOF from the source and the pending batches are
// discarded. The ParallelDataset is never closed with Done, since that can't be done safely after a
// pass is exhausted.
func (p *Prefetched) Stop() {
	if p.pd == nil {
		return
	}
	p.source.stopped.Store(true)
	for {
		if _, _, _, err := p.pd.Yield(); err != nil {
			return
		}
	}
}

// guardedDataset is the source of a Prefetched dataset. It reports errors and stop requests to the
// workers as io.EOF, so the ParallelDataset always finishes its passes normally, and keeps the first
// error to be returned by Prefetched.Yield.
type guardedDataset struct {
	train.Dataset

	stopped atomic.Bool
	mu      sync.Mutex
	err     error
}

func (g *guardedDataset) failure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Yield implements train.Dataset.
func (g *guardedDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if g.stopped.Load() || g.failure() != nil {
		err = io.EOF
		return
	}
	spec, inputs, labels, err = g.Dataset.Yield()
	if err != nil && err != io.EOF {
		g.mu.Lock()
		if g.err == nil {
			g.err = errors.WithMessagef(err, "prefetching dataset %q", g.Name())
		}
		g.mu.Unlock()
		spec, inputs, labels, err = nil, nil, nil, io.EOF
	}
	return
}

// Reset implements train.Dataset.
func (g *guardedDataset) Reset() {
	g.mu.Lock()
	g.err = nil
	g.mu.Unlock()
	g.stopped.Store(false)
	g.Dataset.Reset()
}

// ShortName implements train.HasShortName, so names shorter than 3 characters are accepted.
func (g *guardedDataset) ShortName() string {
	if sn, ok := g.Dataset.(train.HasShortName); ok {
		return sn.ShortName()
	}
	return g.Name()
}
