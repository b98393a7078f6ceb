// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package desirability scores repaired requirements on dimensions other
// than correctness.
//
// # Overview
//
// Three pluggable dimensions keep repairs meaningful:
//
//	SemanticSanity       penalizes vacuous requirements            [0, 1]
//	SyntacticSimilarity  penalizes drift from the original text     [0, 1]
//	SatisfactionExtent   penalizes always/never satisfied repairs   [0, ∞)
//
// Every dimension is a cost: 0 is ideal. A Desirability bundles up to one
// strategy per dimension with weights; a zero weight disables a dimension.
//
// # Thread Safety
//
// Strategies are stateless. Randomized strategies draw from the *rand.Rand
// in Input, which the caller owns.
package desirability

import (
	"context"
	"math/rand/v2"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
)

// SemanticSanity scores how vacuous a requirement is over a suite.
type SemanticSanity interface {
	Name() string
	Sanity(ctx context.Context, suite *trace.Suite, req grammar.Requirement, rng *rand.Rand) (float64, error)
}

// SyntacticSimilarity scores how far a candidate drifted from the original.
type SyntacticSimilarity interface {
	Name() string
	Distance(candidate, original grammar.Requirement) float64
}

// SatisfactionExtent scores degenerate satisfaction patterns.
type SatisfactionExtent interface {
	Name() string
	Extent(candidate, original robustness.Report) float64
}

// Dimension identifies one desirability dimension.
type Dimension string

const (
	DimensionSanity     Dimension = "sanity"
	DimensionSimilarity Dimension = "similarity"
	DimensionExtent     Dimension = "extent"
)

// Weights scale each dimension. Zero disables it.
type Weights struct {
	Sanity     float64 `json:"sanity" yaml:"sanity" validate:"gte=0"`
	Similarity float64 `json:"similarity" yaml:"similarity" validate:"gte=0"`
	Extent     float64 `json:"extent" yaml:"extent" validate:"gte=0"`
}

// Values are the raw per-dimension scores of one candidate.
type Values struct {
	Sanity     float64 `json:"sanity"`
	Similarity float64 `json:"similarity"`
	Extent     float64 `json:"extent"`
}

// Input carries everything a dimension may look at.
type Input struct {
	Suite           *trace.Suite
	Candidate       grammar.Requirement
	Original        grammar.Requirement
	CandidateReport robustness.Report
	OriginalReport  robustness.Report
	Rand            *rand.Rand
}

// Desirability evaluates the enabled dimensions of a candidate.
type Desirability struct {
	Sanity     SemanticSanity
	Similarity SyntacticSimilarity
	Extent     SatisfactionExtent
	Weights    Weights
}

// Active returns the enabled dimensions in a fixed order.
func (d *Desirability) Active() []Dimension {
	if d == nil {
		return nil
	}
	var out []Dimension
	if d.Sanity != nil && d.Weights.Sanity > 0 {
		out = append(out, DimensionSanity)
	}
	if d.Similarity != nil && d.Weights.Similarity > 0 {
		out = append(out, DimensionSimilarity)
	}
	if d.Extent != nil && d.Weights.Extent > 0 {
		out = append(out, DimensionExtent)
	}
	return out
}

// Evaluate computes every enabled dimension. Disabled ones stay 0.
func (d *Desirability) Evaluate(ctx context.Context, in Input) (Values, error) {
	var v Values
	for _, dim := range d.Active() {
		switch dim {
		case DimensionSanity:
			s, err := d.Sanity.Sanity(ctx, in.Suite, in.Candidate, in.Rand)
			if err != nil {
				return Values{}, err
			}
			v.Sanity = s
		case DimensionSimilarity:
			v.Similarity = d.Similarity.Distance(in.Candidate, in.Original)
		case DimensionExtent:
			v.Extent = d.Extent.Extent(in.CandidateReport, in.OriginalReport)
		}
	}
	return v, nil
}

// Weighted returns the weighted sum over enabled dimensions.
func (d *Desirability) Weighted(v Values) float64 {
	var sum float64
	for _, dim := range d.Active() {
		sum += d.weight(dim) * v.get(dim)
	}
	return sum
}

// Separate returns one objective per enabled dimension.
func (d *Desirability) Separate(v Values) []float64 {
	active := d.Active()
	out := make([]float64, len(active))
	for i, dim := range active {
		out[i] = v.get(dim)
	}
	return out
}

func (d *Desirability) weight(dim Dimension) float64 {
	switch dim {
	case DimensionSanity:
		return d.Weights.Sanity
	case DimensionSimilarity:
		return d.Weights.Similarity
	default:
		return d.Weights.Extent
	}
}

func (v Values) get(dim Dimension) float64 {
	switch dim {
	case DimensionSanity:
		return v.Sanity
	case DimensionSimilarity:
		return v.Similarity
	default:
		return v.Extent
	}
}
