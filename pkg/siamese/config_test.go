// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"testing"

	"github.com/gomlx/ged/pkg/ged"
	"github.com/gomlx/ged/pkg/mpnn"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Test = true
	err := cfg.Validate()
	require.Error(t, err, "testing without a model to load must fail")
	assert.Contains(t, err.Error(), "-load")
	cfg.Load = t.TempDir()
	require.NoError(t, cfg.Validate())

	for name, modify := range map[string]func(c *Config){
		"unknown dataset":    func(c *Config) { c.Dataset = "mutag" },
		"jsonl without path": func(c *Config) { c.Dataset = DatasetJSONL },
		"unknown distance":   func(c *Config) { c.Distance = "wl-kernel" },
		"no layers":          func(c *Config) { c.NumLayers = 0 },
		"zero batch":         func(c *Config) { c.BatchSize = 0 },
		"zero learning rate": func(c *Config) { c.LearningRate = 0 },
		"momentum of 1":      func(c *Config) { c.Momentum = 1 },
		"negative schedule":  func(c *Config) { c.Schedule = []int{10, -1} },
		"no ks":              func(c *Config) { c.Ks = nil },
		"k of 0":             func(c *Config) { c.Ks = []int{1, 0} },
		"negative prefetch":  func(c *Config) { c.Prefetch = -1 },
	} {
		cfg := DefaultConfig()
		modify(cfg)
		assert.Errorf(t, cfg.Validate(), "configuration with %s should be invalid", name)
	}
}

func TestApplyToContext(t *testing.T) {
	ctx := CreateDefaultContext()
	cfg := DefaultConfig()
	cfg.NumLayers = 4
	cfg.Distance = "SoftHd"
	cfg.LearningRate = 0.5
	cfg.Momentum = 0.8
	cfg.Decay = 0
	cfg.ApplyToContext(ctx)
	assert.Equal(t, 4, context.GetParamOr(ctx, mpnn.ParamNumLayers, 0))
	assert.Equal(t, "softhd", context.GetParamOr(ctx, ged.ParamDistance, ""))
	assert.Equal(t, 0.5, context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))
	assert.Equal(t, 0.8, context.GetParamOr(ctx, ParamMomentum, 0.0))
	assert.Equal(t, 0.0, context.GetParamOr(ctx, ParamWeightDecay, 1.0))

	d, err := ged.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SoftHd", d.Name())
}
