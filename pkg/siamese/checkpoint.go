// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"os"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// RecordScope is the absolute scope of the training record variables stored with the checkpoints.
	RecordScope = "checkpoint"

	recordEpochName   = "epoch"
	recordBestAccName = "best_acc"
)

// Record of the training progress, saved along the model variables.
type Record struct {
	// Epoch to resume training from: the one after the epoch that produced the checkpoint.
	Epoch int

	// BestAcc is the best validation accuracy seen so far.
	BestAcc float64
}

func recordVariables(ctx *context.Context) (epochVar, bestAccVar *context.Variable) {
	ctx = ctx.InAbsPath(context.ScopeSeparator + RecordScope).Checked(false)
	epochVar = ctx.VariableWithValue(recordEpochName, int64(0)).SetTrainable(false)
	bestAccVar = ctx.VariableWithValue(recordBestAccName, float64(0)).SetTrainable(false)
	return
}

// ReadRecord returns the training record stored in the context. It is zero if none was loaded or written.
func ReadRecord(ctx *context.Context) Record {
	epochVar, bestAccVar := recordVariables(ctx)
	return Record{
		Epoch:   int(tensors.ToScalar[int64](epochVar.MustValue())),
		BestAcc: tensors.ToScalar[float64](bestAccVar.MustValue()),
	}
}

// WriteRecord stores the training record in the context, to be saved with the next checkpoint.
func WriteRecord(ctx *context.Context, record Record) {
	epochVar, bestAccVar := recordVariables(ctx)
	epochVar.MustSetValue(tensors.FromScalar(int64(record.Epoch)))
	bestAccVar.MustSetValue(tensors.FromScalar(record.BestAcc))
}

// LoadCheckpoint restores the variables (including the training record) and the hyperparameters saved in dir.
// It fails if dir doesn't contain a checkpoint: there is no fallback to a freshly initialized model.
func LoadCheckpoint(ctx *context.Context, dir string) (Record, error) {
	if _, err := checkpoints.Load(ctx).Dir(dir).Immediate().Done(); err != nil {
		return Record{}, errors.WithMessagef(err, "failed to load checkpoint from %q", dir)
	}
	record := ReadRecord(ctx)
	klog.Infof("loaded checkpoint from %q: epoch=%d, best accuracy=%.2f%%", dir, record.Epoch, 100*record.BestAcc)
	return record, nil
}

// NewSaver creates the checkpoint handler used to save the best model in dir.
//
// Only one checkpoint is kept. To avoid mixing runs, a non-empty dir is only accepted if it is also the
// directory the training is resuming from (loadDir).
func NewSaver(ctx *context.Context, dir, loadDir string) (*checkpoints.Handler, error) {
	if dir != loadDir {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read checkpoint directory %q", dir)
		}
		if len(entries) > 0 {
			return nil, errors.Errorf("checkpoint directory %q is not empty: remove it or resume from it with -load=%q",
				dir, dir)
		}
	}
	handler, err := checkpoints.Build(ctx).Dir(dir).Keep(1).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create checkpoint handler for %q", dir)
	}
	return handler, nil
}

// SaveBest writes the record into the context and saves a checkpoint.
func SaveBest(handler *checkpoints.Handler, ctx *context.Context, record Record) error {
	WriteRecord(ctx, record)
	if err := handler.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save checkpoint to %q", handler.Dir())
	}
	klog.V(1).Infof("saved checkpoint to %q: epoch=%d, best accuracy=%.2f%%",
		handler.Dir(), record.Epoch, 100*record.BestAcc)
	return nil
}
