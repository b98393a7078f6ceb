// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package desirability

import (
	"math"

	"github.com/AleutianAI/reqrepair/services/repair/robustness"
)

// ratioTolerance decides when a ratio counts as exactly 0 or 1.
const ratioTolerance = 1e-9

// VerticalHorizontalExtent combines a robustness-magnitude term with a flag
// for preconditions that never hold or postconditions that always hold.
type VerticalHorizontalExtent struct{}

// Name returns "extent".
func (VerticalHorizontalExtent) Name() string { return "extent" }

// Extent returns 0.5*|sd|/(1+|sd|) + 0.5*horizontal, where sd is the worst
// implication robustness of the candidate.
func (VerticalHorizontalExtent) Extent(candidate, _ robustness.Report) float64 {
	sd := math.Abs(candidate.Implication.Worst)
	vertical := sd / (1 + sd)
	if math.IsInf(sd, 1) {
		vertical = 1
	}
	horizontal := 0.0
	if candidate.Pre.ItemRatio <= ratioTolerance || candidate.Post.ItemRatio >= 1-ratioTolerance {
		horizontal = 1
	}
	return 0.5*vertical + 0.5*horizontal
}

// finite clamps infinities so scores stay encodable.
func finite(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// SatisfactionMagnitude is the vertical term alone: |sd| of the worst
// implication robustness, unnormalized.
type SatisfactionMagnitude struct{}

// Name returns "magnitude".
func (SatisfactionMagnitude) Name() string { return "magnitude" }

// Extent returns |sd|. Zero means the requirement sits exactly on its boundary.
func (SatisfactionMagnitude) Extent(candidate, _ robustness.Report) float64 {
	return finite(math.Abs(candidate.Implication.Worst))
}

// PreconditionSatisfaction penalizes preconditions by how far their worst
// item falls below zero.
type PreconditionSatisfaction struct{}

// Name returns "precondition".
func (PreconditionSatisfaction) Name() string { return "precondition" }

// Extent returns max(0, -pre worst).
func (PreconditionSatisfaction) Extent(candidate, _ robustness.Report) float64 {
	return finite(math.Max(0, -candidate.Pre.Worst))
}

// AvoidAbsoluteSatisfaction flags repairs that are trivially satisfied at
// the trace level: the precondition holds on no trace, or both conditions
// hold on every trace.
type AvoidAbsoluteSatisfaction struct{}

// Name returns "absolute".
func (AvoidAbsoluteSatisfaction) Name() string { return "absolute" }

// Extent returns 1 for a trivially satisfied candidate, else 0.
func (AvoidAbsoluteSatisfaction) Extent(candidate, _ robustness.Report) float64 {
	pre, post := candidate.Pre.TraceRatio, candidate.Post.TraceRatio
	if pre <= ratioTolerance || (pre >= 1-ratioTolerance && post >= 1-ratioTolerance) {
		return 1
	}
	return 0
}
