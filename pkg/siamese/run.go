// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"fmt"
	"io"
	"time"

	"github.com/gomlx/ged/pkg/graphs"
	"github.com/gomlx/ged/pkg/mpnn"
	"github.com/gomlx/ged/pkg/scalars"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Result of a Run.
type Result struct {
	// Epoch is the epoch training would resume from, and BestAcc the best validation accuracy.
	Record

	// RunDir is the directory of the scalar logs, if any.
	RunDir string

	TestLoss, TestAcc *Accumulator

	// KNN accuracies indexed by k.
	KNN map[int]*Accumulator
}

// LoadData returns the train, validation and test splits configured.
func LoadData(cfg *Config) (*graphs.Splits, error) {
	switch cfg.Dataset {
	case DatasetLetters:
		evalPerClass := max(2, cfg.LettersPerClass/5)
		return graphs.LetterSplits(cfg.LettersPerClass, evalPerClass, evalPerClass, cfg.Distortion, cfg.Seed), nil
	case DatasetJSONL:
		return graphs.LoadSplits(cfg.DataPath)
	default:
		return nil, errors.Errorf("unknown dataset %q", cfg.Dataset)
	}
}

// Run trains (unless cfg.Test is set) and tests the siamese model on the splits, writing reports to out.
//
// ctx holds the model hyperparameters, see CreateDefaultContext and Config.ApplyToContext. If cfg.Load is set,
// the checkpoint is restored into ctx and training resumes from its epoch. The best model (by validation
// accuracy) is saved to cfg.Save, and reloaded before the test.
func Run(backend backends.Backend, ctx *context.Context, cfg *Config, splits *graphs.Splits, out io.Writer) (
	*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NumGPUs > 1 {
		klog.Warningf("-ngpu=%d: data-parallel training across devices is best-effort and not verified, "+
			"running on a single device of backend %s", cfg.NumGPUs, backend.Name())
	}
	result := &Result{}

	if cfg.Load != "" {
		record, err := LoadCheckpoint(ctx, cfg.Load)
		if err != nil {
			return nil, err
		}
		result.Record = record
	}

	trainDS := graphs.NewPairDataset("train", graphs.MakePairs(splits.Train, cfg.Seed), cfg.BatchSize).
		Shuffle(cfg.Seed).Bucket(cfg.Bucket)
	validDS := graphs.NewPairDataset("valid", graphs.MakePairs(splits.Valid, cfg.Seed+1), cfg.BatchSize).
		Bucket(cfg.Bucket)
	testDS := graphs.NewPairDataset("test", graphs.MakePairs(splits.Test, cfg.Seed+2), cfg.TestBatchSize).
		Bucket(cfg.Bucket)
	klog.Infof("pairs: %d train, %d validation, %d test", trainDS.NumPairs(), validDS.NumPairs(), testDS.NumPairs())

	trainer, err := NewTrainer(backend, ctx, mpnn.New(), trainDS, cfg)
	if err != nil {
		return nil, err
	}
	defer trainer.Close()
	klog.Infof("distance %s, margin %g", trainer.Distance().Name(), trainer.margin)

	// Scalars are only logged for training runs.
	var logger *scalars.Logger
	if cfg.LogDir != "" && !cfg.Test {
		result.RunDir, err = scalars.RunDir(cfg.LogDir, cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if logger, err = scalars.New(result.RunDir); err != nil {
			return nil, err
		}
		logger.SetStep(result.Epoch)
		defer func() {
			if err := logger.Close(); err != nil {
				klog.Errorf("failed to close scalars logger in %q: %+v", logger.Dir(), err)
			}
		}()
	}

	if !cfg.Test {
		if err = runEpochs(trainer, ctx, cfg, validDS, logger, result, out); err != nil {
			return nil, err
		}
	}

	// Test: siamese evaluation on the test pairs, and k-NN classification of the test graphs against
	// the training graphs.
	start := time.Now()
	result.TestLoss, result.TestAcc, err = trainer.Validate(testDS)
	if err != nil {
		return nil, errors.WithMessage(err, "test")
	}
	result.TestLoss.Name, result.TestLoss.Short = "Test Loss", "loss_test"
	result.TestAcc.Name, result.TestAcc.Short = "Test Accuracy", "acc_test"
	PrintSummary(out, "Test", time.Since(start), result.TestLoss, result.TestAcc)

	start = time.Now()
	queries := graphs.NewGraphDataset("test", splits.Test, 1).Bucket(cfg.Bucket)
	gallery := graphs.NewGraphDataset("train", splits.Train, cfg.BatchSize).Bucket(cfg.Bucket)
	result.KNN, err = trainer.Test(queries, gallery, cfg.Ks)
	if err != nil {
		return nil, errors.WithMessage(err, "k-NN test")
	}
	_, _ = fmt.Fprintf(out, "k-NN classification (%s):\n", time.Since(start).Round(time.Millisecond))
	PrintKNN(out, cfg.Ks, result.KNN)
	if logger != nil {
		logger.AddScalar(result.TestLoss.Short, result.TestLoss.Avg())
		logger.AddScalar(result.TestAcc.Short, result.TestAcc.Avg())
		for _, k := range cfg.Ks {
			logger.AddScalar(result.KNN[k].Short, result.KNN[k].Avg())
		}
	}
	return result, nil
}

// runEpochs runs the epochs from result.Epoch to cfg.Epochs, saving the model whenever the validation accuracy
// improves. At the end, the best saved model is restored into ctx.
func runEpochs(trainer *Trainer, ctx *context.Context, cfg *Config, validDS *graphs.PairDataset, logger *scalars.Logger,
	result *Result, out io.Writer) error {
	var saver *checkpoints.Handler
	if cfg.Save != "" {
		var err error
		if saver, err = NewSaver(ctx, cfg.Save, cfg.Load); err != nil {
			return err
		}
	}
	if result.Epoch >= cfg.Epochs {
		klog.Warningf("checkpoint is already at epoch %d, and -epochs=%d: nothing to train", result.Epoch, cfg.Epochs)
	}

	for epoch := result.Epoch; epoch < cfg.Epochs; epoch++ {
		start := time.Now()
		lossTrain, err := trainer.TrainEpoch(epoch)
		if err != nil {
			return err
		}
		lossValid, accValid, err := trainer.Validate(validDS)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}
		learningRate := trainer.LearningRate()
		elapsed := time.Since(start)
		klog.Infof("epoch %d: %s, %s, %s, learning rate %g, elapsed %s",
			epoch, lossTrain, lossValid, accValid, learningRate, elapsed.Round(time.Millisecond))
		PrintSummary(out, fmt.Sprintf("Epoch %d", epoch), elapsed, lossTrain, lossValid, accValid)
		if logger != nil {
			for _, metric := range []*Accumulator{lossTrain, lossValid, accValid} {
				logger.AddScalar(metric.Short, metric.Avg())
			}
			logger.AddScalar("learning_rate", learningRate)
			logger.Step()
		}

		if accValid.Avg() > result.BestAcc {
			result.BestAcc = accValid.Avg()
			if saver != nil {
				if err = SaveBest(saver, ctx, Record{Epoch: epoch + 1, BestAcc: result.BestAcc}); err != nil {
					return err
				}
			}
		}
	}

	result.Epoch = max(result.Epoch, cfg.Epochs)
	if saver == nil {
		return nil
	}
	hasCheckpoints, err := saver.HasCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "failed to list checkpoints in %q", saver.Dir())
	}
	if hasCheckpoints {
		record, err := LoadCheckpoint(ctx, cfg.Save)
		if err != nil {
			return errors.WithMessage(err, "failed to restore the best model")
		}
		result.Record = record
	}
	return nil
}
