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
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnknownStrategy indicates a strategy name with no factory.
var ErrUnknownStrategy = errors.New("unknown desirability strategy")

// Options parameterize strategy construction.
type Options struct {
	// Samples is the sample count of sampling-based sanity.
	Samples int `json:"samples" yaml:"samples" validate:"gte=0"`

	// Margin is the spread under which sampled values count as equal.
	Margin float64 `json:"margin" yaml:"margin" validate:"gte=0"`
}

// DefaultOptions returns 10 samples and a 1e-6 margin.
func DefaultOptions() Options {
	return Options{Samples: 10, Margin: 1e-6}
}

var sanityFactories = map[string]func(Options) SemanticSanity{
	"sampling": func(o Options) SemanticSanity { return NewSamplingSanity(o.Samples, o.Margin) },
	"units":    func(Options) SemanticSanity { return UnitConsistency{} },
	"combined": func(o Options) SemanticSanity {
		return &CombinedSanity{Sampling: NewSamplingSanity(o.Samples, o.Margin)}
	},
}

var similarityFactories = map[string]func() SyntacticSimilarity{
	"cosine": func() SyntacticSimilarity { return CosineDistance{} },
	"ted":    func() SyntacticSimilarity { return TreeEditDistance{} },
}

var extentFactories = map[string]func() SatisfactionExtent{
	"extent":       func() SatisfactionExtent { return VerticalHorizontalExtent{} },
	"magnitude":    func() SatisfactionExtent { return SatisfactionMagnitude{} },
	"precondition": func() SatisfactionExtent { return PreconditionSatisfaction{} },
	"absolute":     func() SatisfactionExtent { return AvoidAbsoluteSatisfaction{} },
}

// Strategies names one strategy per dimension. Empty disables a dimension.
type Strategies struct {
	Sanity     string `json:"sanity" yaml:"sanity"`
	Similarity string `json:"similarity" yaml:"similarity"`
	Extent     string `json:"extent" yaml:"extent"`
}

// New builds a Desirability from strategy names.
//
// Inputs:
//
//	s - Strategy names per dimension ("" disables).
//	w - Weights per dimension.
//	opts - Strategy options.
//
// Outputs:
//
//	*Desirability - The configured bundle.
//	error - ErrUnknownStrategy for an unregistered name.
func New(s Strategies, w Weights, opts Options) (*Desirability, error) {
	d := &Desirability{Weights: w}
	if s.Sanity != "" {
		f, ok := sanityFactories[s.Sanity]
		if !ok {
			return nil, fmt.Errorf("%w: sanity %q (known: %v)", ErrUnknownStrategy, s.Sanity, SanityNames())
		}
		d.Sanity = f(opts)
	}
	if s.Similarity != "" {
		f, ok := similarityFactories[s.Similarity]
		if !ok {
			return nil, fmt.Errorf("%w: similarity %q (known: %v)", ErrUnknownStrategy, s.Similarity, SimilarityNames())
		}
		d.Similarity = f()
	}
	if s.Extent != "" {
		f, ok := extentFactories[s.Extent]
		if !ok {
			return nil, fmt.Errorf("%w: extent %q (known: %v)", ErrUnknownStrategy, s.Extent, ExtentNames())
		}
		d.Extent = f()
	}
	return d, nil
}

// SanityNames lists registered sanity strategies.
func SanityNames() []string { return slices.Sorted(maps.Keys(sanityFactories)) }

// SimilarityNames lists registered similarity strategies.
func SimilarityNames() []string { return slices.Sorted(maps.Keys(similarityFactories)) }

// ExtentNames lists registered extent strategies.
func ExtentNames() []string { return slices.Sorted(maps.Keys(extentFactories)) }
