// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package siamese trains a learned graph edit distance with a siamese network: pairs of graphs are embedded
// by the same message-passing network, compared with a ged.Distance and trained with a contrastive loss.
//
// It holds the configuration, the training, validation and k-NN retrieval loops, the step learning-rate
// schedule, the Nesterov SGD optimizer and the checkpoint record.
package siamese

import (
	"slices"
	"strings"

	"github.com/gomlx/ged/pkg/ged"
	"github.com/gomlx/ged/pkg/mpnn"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Dataset names accepted by Config.Dataset.
const (
	DatasetLetters = "letters"
	DatasetJSONL   = "jsonl"
)

// Config of a training (or test) run. It is usually populated from command-line flags.
//
// Model hyperparameters that are not here are read from the context.Context, see CreateDefaultContext.
type Config struct {
	// DataPath is the root directory of the dataset. For the "letters" dataset it is not used.
	DataPath string

	// Dataset is either DatasetLetters or DatasetJSONL.
	Dataset string

	// LettersPerClass is the number of training graphs per letter generated for the DatasetLetters dataset.
	// Validation and test splits get a fifth of it (at least 2) per letter.
	LettersPerClass int

	// Distortion of the generated letters, see graphs.LettersConfig.
	Distortion float64

	// NumLayers of message passing.
	NumLayers int

	Epochs    int
	BatchSize int

	// TestBatchSize is the batch size of the siamese evaluation on the test pairs.
	TestBatchSize int

	LearningRate float64
	Momentum     float64
	Decay        float64

	// Schedule lists the epochs at which the learning rate is multiplied by Gamma.
	Schedule []int
	Gamma    float64

	// Distance is "hd" or "softhd".
	Distance string

	// Save is the checkpoint directory where the best model is saved. Empty disables saving.
	Save string

	// Load is the checkpoint directory to resume from, or to test.
	Load string

	// Test only: skip training. It requires Load.
	Test bool

	// NumGPUs is the number of accelerators requested. Values larger than 1 are best-effort: see Run.
	NumGPUs int

	// Prefetch is the number of background workers preparing batches. 0 generates batches synchronously.
	Prefetch int

	// LogDir is the root of the scalar logs. Empty disables logging.
	LogDir string

	// LogInterval is the number of batches between training status log lines. 0 disables it.
	LogInterval int

	// Bucket of the padded number of nodes, see graphs.PaddedSize. 0 pads to the largest graph of each batch.
	Bucket int

	// Ks are the number of neighbors used by the k-NN retrieval test.
	Ks []int

	// Seed used to sample and shuffle pairs, and to generate synthetic datasets.
	Seed uint64

	// Progress enables the terminal progress bar.
	Progress bool
}

// DefaultConfig returns the configuration with the default values.
func DefaultConfig() *Config {
	return &Config{
		Dataset:         DatasetLetters,
		LettersPerClass: 50,
		Distortion:      0.25,
		NumLayers:       2,
		Epochs:          1,
		BatchSize:       64,
		TestBatchSize:   64,
		LearningRate:    1e-2,
		Momentum:        0.9,
		Decay:           5e-4,
		Schedule:        []int{250, 750, 2500},
		Gamma:           0.1,
		Distance:        string(ged.KindHd),
		Prefetch:        2,
		Ks:              slices.Clone(ged.DefaultKs),
		Seed:            42,
	}
}

// Validate checks the configuration. It is called before any dataset or model work.
func (c *Config) Validate() error {
	if c.Test && c.Load == "" {
		return errors.New("cannot test without loading a model: -test requires -load")
	}
	switch c.Dataset {
	case DatasetLetters:
		if c.LettersPerClass < 2 || c.Distortion < 0 {
			return errors.Errorf("letters dataset requires at least 2 graphs per class and distortion >= 0, "+
				"got %d and %g", c.LettersPerClass, c.Distortion)
		}
	case DatasetJSONL:
		if c.DataPath == "" {
			return errors.Errorf("dataset %q requires a data path", c.Dataset)
		}
	default:
		return errors.Errorf("unknown dataset %q, valid values are %q or %q", c.Dataset, DatasetLetters, DatasetJSONL)
	}
	if _, err := ged.New(ged.DistanceKind(c.Distance)); err != nil {
		return err
	}
	if c.NumLayers <= 0 {
		return errors.Errorf("number of layers must be > 0, got %d", c.NumLayers)
	}
	if c.Epochs < 0 {
		return errors.Errorf("number of epochs must be >= 0, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 || c.TestBatchSize <= 0 {
		return errors.Errorf("batch sizes must be > 0, got batch size %d and test batch size %d",
			c.BatchSize, c.TestBatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be > 0, got %g", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return errors.Errorf("momentum must be in [0, 1), got %g", c.Momentum)
	}
	if c.Decay < 0 {
		return errors.Errorf("weight decay must be >= 0, got %g", c.Decay)
	}
	if c.Gamma <= 0 {
		return errors.Errorf("gamma must be > 0, got %g", c.Gamma)
	}
	for _, epoch := range c.Schedule {
		if epoch < 0 {
			return errors.Errorf("schedule epochs must be >= 0, got %v", c.Schedule)
		}
	}
	if len(c.Ks) == 0 {
		return errors.New("at least one k is required for the k-NN test")
	}
	for _, k := range c.Ks {
		if k <= 0 {
			return errors.Errorf("k-NN requires k > 0, got %v", c.Ks)
		}
	}
	if c.NumGPUs < 0 || c.Prefetch < 0 || c.LogInterval < 0 || c.Bucket < 0 {
		return errors.Errorf("ngpu (%d), prefetch (%d), log interval (%d) and bucket (%d) must be >= 0",
			c.NumGPUs, c.Prefetch, c.LogInterval, c.Bucket)
	}
	return nil
}

// CreateDefaultContext returns a context with the default model hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		mpnn.ParamNumLayers:          2,
		mpnn.ParamHiddenDim:          64,
		mpnn.ParamEmbeddingDim:       64,
		mpnn.ParamPoolingType:        "sum",
		mpnn.ParamResidual:           true,
		activations.ParamActivation:  "relu",
		layers.ParamNormalization:    "layer",
		layers.ParamDropoutRate:      0.0,
		ged.ParamDistance:            string(ged.KindHd),
		ged.ParamMargin:              ged.DefaultMargin,
		ged.ParamNodeCost:            ged.DefaultNodeCost,
		ged.ParamEdgeCost:            ged.DefaultEdgeCost,
		ged.ParamSoftHdTemperature:   ged.DefaultTemperature,
		optimizers.ParamLearningRate: 1e-2,
		ParamMomentum:                0.9,
		ParamWeightDecay:             5e-4,
		ParamNesterov:                true,
	})
	return ctx
}

// ApplyToContext writes the hyperparameters held by the configuration into the context parameters.
func (c *Config) ApplyToContext(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		mpnn.ParamNumLayers:          c.NumLayers,
		ged.ParamDistance:            strings.ToLower(c.Distance),
		optimizers.ParamLearningRate: c.LearningRate,
		ParamMomentum:                c.Momentum,
		ParamWeightDecay:             c.Decay,
	})
}
