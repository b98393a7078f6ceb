// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/AleutianAI/reqrepair/services/repair/desirability"
	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
)

// Target names the side(s) a candidate varies.
type Target int

const (
	TargetPre Target = iota
	TargetPost
	TargetBoth
)

// String returns "pre", "post" or "both".
func (t Target) String() string {
	switch t {
	case TargetPre:
		return "pre"
	case TargetPost:
		return "post"
	default:
		return "both"
	}
}

// Sides lists the requirement sides covered by t.
func (t Target) Sides() []grammar.Side {
	switch t {
	case TargetPre:
		return []grammar.Side{grammar.SidePre}
	case TargetPost:
		return []grammar.Side{grammar.SidePost}
	default:
		return []grammar.Side{grammar.SidePre, grammar.SidePost}
	}
}

// targetOf maps a single side to its target.
func targetOf(s grammar.Side) Target {
	if s == grammar.SidePre {
		return TargetPre
	}
	return TargetPost
}

// Candidate is one individual of the population.
//
// A nil Fitness marks the candidate for (re-)evaluation.
type Candidate struct {
	Req     grammar.Requirement
	Target  Target
	Fitness []float64
	Report  robustness.Report
	Values  desirability.Values

	// Generation the candidate was created in.
	Generation int

	rank     int
	crowding float64
}

// Valid reports whether the candidate carries a fitness.
func (c *Candidate) Valid() bool {
	return c.Fitness != nil
}

// Invalidate drops the cached fitness after variation.
func (c *Candidate) Invalidate() {
	c.Fitness = nil
	c.Report = robustness.Report{}
	c.Values = desirability.Values{}
}

// clone deep-copies the genome. Fitness is shared read-only.
func (c *Candidate) clone() *Candidate {
	return &Candidate{
		Req:        c.Req.Clone(),
		Target:     c.Target,
		Fitness:    c.Fitness,
		Report:     c.Report,
		Values:     c.Values,
		Generation: c.Generation,
	}
}

// perfect reports an all-zero fitness vector.
func (c *Candidate) perfect() bool {
	if !c.Valid() {
		return false
	}
	for _, f := range c.Fitness {
		if f != 0 {
			return false
		}
	}
	return true
}

// dominates reports whether a is no worse than b on every objective and
// strictly better on at least one. All objectives are minimized.
func dominates(a, b []float64) bool {
	better := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			better = true
		}
	}
	return better
}

// lexLess orders fitness vectors lexicographically.
func lexLess(a, b []float64) bool {
	for i := range min(len(a), len(b)) {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
