// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator("Train Loss", "loss_train", MetricTypeLoss)
	assert.True(t, math.IsNaN(acc.Avg()))

	acc.Update(1.0, 2)
	acc.Update(4.0, 1)
	acc.Update(100.0, 0) // Empty batches are ignored.
	assert.Equal(t, 3, acc.Count())
	assert.InDelta(t, 6.0, acc.Sum(), 1e-12)
	assert.InDelta(t, 2.0, acc.Avg(), 1e-12)
	assert.Equal(t, "Train Loss: 2.0000", acc.String())

	acc.Reset()
	assert.Equal(t, 0, acc.Count())
	assert.True(t, math.IsNaN(acc.Avg()))

	accuracy := NewAccumulator("Valid Accuracy", "acc_valid", MetricTypeAccuracy)
	accuracy.Update(0.5, 4)
	accuracy.Update(1.0, 4)
	assert.Equal(t, "Valid Accuracy: 75.00%", accuracy.String())
}
