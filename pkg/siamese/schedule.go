// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"math"
	"slices"
)

// StepSchedule decays the learning rate by Gamma at each of the Milestones epochs.
//
// Apply is idempotent: each milestone is applied at most once, so calling it repeatedly for the same epoch,
// or starting from a resumed epoch, yields the same learning rate.
type StepSchedule struct {
	Base       float64
	Milestones []int
	Gamma      float64

	current float64
	applied map[int]bool
}

// NewStepSchedule creates a schedule starting at base.
func NewStepSchedule(base float64, milestones []int, gamma float64) *StepSchedule {
	milestones = slices.Clone(milestones)
	slices.Sort(milestones)
	milestones = slices.Compact(milestones)
	return &StepSchedule{
		Base:       base,
		Milestones: milestones,
		Gamma:      gamma,
		current:    base,
		applied:    make(map[int]bool),
	}
}

// Apply returns the learning rate to use at epoch, and whether it changed since the last call.
func (s *StepSchedule) Apply(epoch int) (lr float64, changed bool) {
	if s.applied == nil {
		s.applied = make(map[int]bool)
		s.current = s.Base
	}
	for _, milestone := range s.Milestones {
		if milestone > epoch || s.applied[milestone] {
			continue
		}
		s.applied[milestone] = true
		s.current *= s.Gamma
		changed = true
	}
	return s.current, changed
}

// At returns the learning rate for epoch without changing the state of the schedule.
func (s *StepSchedule) At(epoch int) float64 {
	count := 0
	for _, milestone := range s.Milestones {
		if milestone <= epoch {
			count++
		}
	}
	return s.Base * math.Pow(s.Gamma, float64(count))
}
