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
	"context"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
)

// -----------------------------------------------------------------------------
// Sampling
// -----------------------------------------------------------------------------

// SamplingSanity flags requirements whose merged robustness barely varies
// across random samples, which is typical of tautologies and contradictions.
type SamplingSanity struct {
	// Samples is how many (trace, index) pairs are drawn.
	Samples int

	// Margin is the spread at or below which values count as equal.
	Margin float64
}

// NewSamplingSanity returns a sampler with the given sample count and margin.
func NewSamplingSanity(samples int, margin float64) *SamplingSanity {
	if samples < 2 {
		samples = 2
	}
	return &SamplingSanity{Samples: samples, Margin: margin}
}

// Name returns "sampling".
func (s *SamplingSanity) Name() string { return "sampling" }

// Sanity returns 1 if every sampled value is within Margin of the others.
func (s *SamplingSanity) Sanity(ctx context.Context, suite *trace.Suite, req grammar.Requirement, rng *rand.Rand) (float64, error) {
	if suite == nil || suite.Len() == 0 {
		return 0, trace.ErrEmptySuite
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	eval := robustness.ForSuite(suite)
	merged := req.Merged()

	lo, hi := math.Inf(1), math.Inf(-1)
	for n := 0; n < s.Samples; n++ {
		tr := suite.Trace(rng.IntN(suite.Len()))
		idx := 0
		if tr.Len() > 1 {
			idx = 1 + rng.IntN(tr.Len()-1)
		}
		v, err := eval.Evaluate(merged, tr, idx)
		if err != nil {
			return 0, err
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi-lo <= s.Margin {
		return 1, nil
	}
	return 0, nil
}

// -----------------------------------------------------------------------------
// Units
// -----------------------------------------------------------------------------

// UnitConsistency flags physically meaningless expressions: arithmetic on
// different units, and comparisons that are constant by construction.
type UnitConsistency struct{}

// Name returns "units".
func (UnitConsistency) Name() string { return "units" }

// Sanity returns 1 if the merged tree has any unit or comparison defect.
func (u UnitConsistency) Sanity(_ context.Context, suite *trace.Suite, req grammar.Requirement, _ *rand.Rand) (float64, error) {
	return u.Check(req.Merged(), suite.Units()), nil
}

// unitKind classifies the unit of a Real subtree.
type unitKind int

const (
	unitNumber   unitKind = iota // constants only, compatible with anything
	unitKnown                    // a concrete unit, possibly ""
	unitMismatch                 // operands disagree
)

type unitInfo struct {
	kind unitKind
	unit string
}

// Check returns 1 if tree contains a defect under the given unit map.
func (u UnitConsistency) Check(tree grammar.Tree, units map[string]string) float64 {
	bad := false
	var walk func(i int) (unitInfo, int)
	walk = func(i int) (unitInfo, int) {
		n := tree[i]
		switch n.Kind {
		case grammar.KindVar, grammar.KindPrevMarker:
			return unitInfo{kind: unitKnown, unit: units[n.Name]}, i + 1
		case grammar.KindConst, grammar.KindEphemeral:
			return unitInfo{kind: unitNumber}, i + 1
		}

		spec := n.Op.Spec()
		args := make([]unitInfo, spec.Arity())
		starts := make([]int, spec.Arity())
		next := i + 1
		for k := range args {
			starts[k] = next
			args[k], next = walk(next)
		}

		switch n.Op {
		case grammar.OpPrev:
			return args[0], next
		case grammar.OpAdd, grammar.OpSub:
			// Constant-only and self-referential arithmetic is as degenerate
			// as mixing units.
			merged := combineUnits(args[0], args[1])
			switch {
			case args[0].kind == unitNumber && args[1].kind == unitNumber:
				merged = unitInfo{kind: unitMismatch}
			case tree[starts[0]:starts[1]].Equal(tree[starts[1]:next]):
				merged = unitInfo{kind: unitMismatch}
			}
			if merged.kind == unitMismatch {
				bad = true
			}
			return merged, next
		case grammar.OpLt, grammar.OpLe, grammar.OpGt, grammar.OpGe, grammar.OpEq:
			a, b := args[0], args[1]
			switch {
			case a.kind == unitNumber && b.kind == unitNumber:
				bad = true
			case tree[starts[0]:starts[1]].Equal(tree[starts[1]:next]):
				bad = true
			case combineUnits(a, b).kind == unitMismatch:
				bad = true
			}
		}
		return unitInfo{kind: unitNumber}, next
	}
	walk(0)
	if bad {
		return 1
	}
	return 0
}

func combineUnits(a, b unitInfo) unitInfo {
	switch {
	case a.kind == unitMismatch || b.kind == unitMismatch:
		return unitInfo{kind: unitMismatch}
	case a.kind == unitNumber:
		return b
	case b.kind == unitNumber:
		return a
	case a.unit == b.unit:
		return a
	default:
		return unitInfo{kind: unitMismatch}
	}
}

// -----------------------------------------------------------------------------
// Combined
// -----------------------------------------------------------------------------

// CombinedSanity averages sampling and unit checks.
type CombinedSanity struct {
	Sampling *SamplingSanity
	Units    UnitConsistency
}

// Name returns "combined".
func (c *CombinedSanity) Name() string { return "combined" }

// Sanity returns 0.5*sampling + 0.5*units.
func (c *CombinedSanity) Sanity(ctx context.Context, suite *trace.Suite, req grammar.Requirement, rng *rand.Rand) (float64, error) {
	s, err := c.Sampling.Sanity(ctx, suite, req, rng)
	if err != nil {
		return 0, err
	}
	u, err := c.Units.Sanity(ctx, suite, req, rng)
	if err != nil {
		return 0, err
	}
	return 0.5*s + 0.5*u, nil
}
