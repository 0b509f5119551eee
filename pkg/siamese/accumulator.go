// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"fmt"
	"math"
)

// Metric types of an Accumulator, used to group metrics in reports.
const (
	MetricTypeLoss     = "loss"
	MetricTypeAccuracy = "accuracy"
)

// Accumulator keeps a running weighted average of a metric over batches of different sizes.
//
// It is not safe for concurrent use: it is only updated by the goroutine driving the training.
type Accumulator struct {
	// Name of the metric, e.g. "Train Loss".
	Name string

	// Short name used in compact reports and as the logger scalar key, e.g. "loss_train".
	Short string

	// MetricType is MetricTypeLoss or MetricTypeAccuracy.
	MetricType string

	sum   float64
	count int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator(name, short, metricType string) *Accumulator {
	return &Accumulator{Name: name, Short: short, MetricType: metricType}
}

// Update the accumulator with the average value of a batch of n examples.
func (a *Accumulator) Update(value float64, n int) {
	if n <= 0 {
		return
	}
	a.sum += value * float64(n)
	a.count += n
}

// Avg returns the weighted average of the values seen so far, or NaN if there were none.
func (a *Accumulator) Avg() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

// Sum of the values weighted by their number of examples.
func (a *Accumulator) Sum() float64 { return a.sum }

// Count is the total number of examples seen.
func (a *Accumulator) Count() int { return a.count }

// Reset the accumulator.
func (a *Accumulator) Reset() {
	a.sum = 0
	a.count = 0
}

// String implements fmt.Stringer.
func (a *Accumulator) String() string {
	if a.MetricType == MetricTypeAccuracy {
		return fmt.Sprintf("%s: %.2f%%", a.Name, 100*a.Avg())
	}
	return fmt.Sprintf("%s: %.4f", a.Name, a.Avg())
}
