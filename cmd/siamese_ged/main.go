// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// siamese_ged trains a learned graph edit distance with a siamese message-passing network, and evaluates it
// with k-NN graph classification.
//
// Usage:
//
//	siamese_ged [flags] <data_path> <dataset>
//
// dataset is "letters" (a synthetic letter drawings dataset, data_path is ignored) or "jsonl" (data_path
// holds train.jsonl, valid.jsonl and test.jsonl).
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/ged/pkg/siamese"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var defaults = siamese.DefaultConfig()

var (
	flagNumLayers    = flag.Int("nlayers", defaults.NumLayers, "Number of message passing layers.")
	flagEpochs       = flag.Int("epochs", defaults.Epochs, "Number of epochs to train.")
	flagBatchSize    = flag.Int("batch_size", defaults.BatchSize, "Batch size (number of pairs).")
	flagTestBatch    = flag.Int("test_batch_size", defaults.TestBatchSize, "Batch size of the siamese test.")
	flagLearningRate = flag.Float64("learning_rate", defaults.LearningRate, "Initial learning rate.")
	flagMomentum     = flag.Float64("momentum", defaults.Momentum, "Nesterov momentum.")
	flagDecay        = flag.Float64("decay", defaults.Decay, "Weight decay (L2 penalty).")
	flagSchedule     = flag.String("schedule", joinInts(defaults.Schedule),
		"Comma separated epochs at which the learning rate is multiplied by -gamma.")
	flagGamma    = flag.Float64("gamma", defaults.Gamma, "Learning rate decay factor at each -schedule epoch.")
	flagDistance = flag.String("distance", defaults.Distance, `Graph distance: "hd" or "softhd".`)
	flagSave     = flag.String("save", "", "Directory where the best model is saved. Empty disables saving.")
	flagLoad     = flag.String("load", "", "Directory of a checkpoint to resume training from, or to test.")
	flagTest     = flag.Bool("test", false, "Only test the model given by -load.")
	flagNumGPUs  = flag.Int("ngpu", 0, "Number of accelerators to use. Values > 1 are best-effort.")
	flagPrefetch = flag.Int("prefetch", defaults.Prefetch, "Number of workers preparing batches in background.")
	flagLogDir   = flag.String("log", "./log/", "Directory of the scalar logs. Empty disables logging.")
	flagLogEvery = flag.Int("log-interval", 0, "Number of batches between training status lines. 0 disables it.")
	flagBucket   = flag.Int("bucket", 0, "Pad graphs to powers of 2 at least this large. 0 pads to the largest graph.")
	flagKs       = flag.String("ks", joinInts(defaults.Ks), "Comma separated values of k for the k-NN test.")
	flagSeed     = flag.Uint64("seed", defaults.Seed, "Seed for the pairs sampling and the synthetic dataset.")
	flagPerClass = flag.Int("letters_per_class", defaults.LettersPerClass,
		"Number of training graphs per class of the letters dataset.")
	flagDistortion = flag.Float64("distortion", defaults.Distortion, "Distortion of the letters dataset.")
	flagProgress   = flag.Bool("progress", true, "Display a progress bar while training.")
)

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func parseInts(flagName, value string) ([]int, error) {
	var values []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value for -%s=%q", flagName, value)
		}
		values = append(values, v)
	}
	return values, nil
}

func configFromFlags() (*siamese.Config, error) {
	if flag.NArg() != 2 {
		return nil, errors.Errorf("expected 2 positional arguments <data_path> <dataset>, got %d: %q",
			flag.NArg(), flag.Args())
	}
	cfg := siamese.DefaultConfig()
	cfg.DataPath = flag.Arg(0)
	cfg.Dataset = strings.ToLower(flag.Arg(1))
	cfg.NumLayers = *flagNumLayers
	cfg.Epochs = *flagEpochs
	cfg.BatchSize = *flagBatchSize
	cfg.TestBatchSize = *flagTestBatch
	cfg.LearningRate = *flagLearningRate
	cfg.Momentum = *flagMomentum
	cfg.Decay = *flagDecay
	cfg.Gamma = *flagGamma
	cfg.Distance = *flagDistance
	cfg.Save = *flagSave
	cfg.Load = *flagLoad
	cfg.Test = *flagTest
	cfg.NumGPUs = *flagNumGPUs
	cfg.Prefetch = *flagPrefetch
	cfg.LogDir = *flagLogDir
	cfg.LogInterval = *flagLogEvery
	cfg.Bucket = *flagBucket
	cfg.Seed = *flagSeed
	cfg.LettersPerClass = *flagPerClass
	cfg.Distortion = *flagDistortion
	cfg.Progress = *flagProgress
	var err error
	if cfg.Schedule, err = parseInts("schedule", *flagSchedule); err != nil {
		return nil, err
	}
	if cfg.Ks, err = parseInts("ks", *flagKs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	ctx := siamese.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <data_path> <letters|jsonl>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := configFromFlags()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		klog.Fatalf("Invalid configuration: %+v", err)
	}
	cfg.ApplyToContext(ctx)
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))

	splits, err := siamese.LoadData(cfg)
	if err != nil {
		klog.Fatalf("Failed to load dataset %q: %+v", cfg.Dataset, err)
	}
	klog.Infof("dataset %q: %d train, %d validation and %d test graphs",
		cfg.Dataset, len(splits.Train), len(splits.Valid), len(splits.Test))

	backend := backends.MustNew()
	defer backend.Finalize()
	result, err := siamese.Run(backend, ctx, cfg, splits, os.Stdout)
	if err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
	if result.RunDir != "" {
		fmt.Printf("Logs in %s\n", result.RunDir)
	}
}
