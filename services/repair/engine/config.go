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
	"fmt"
	"maps"
	"runtime"
	"slices"

	"github.com/AleutianAI/reqrepair/services/repair/desirability"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
)

// Aggregation modes.
const (
	// AggregationWeightedSum folds desirability into one objective, giving
	// two objectives in total.
	AggregationWeightedSum = "weighted_sum"

	// AggregationNone keeps each enabled desirability dimension as its own
	// objective.
	AggregationNone = "no_aggregation"
)

// Target modes.
const (
	// TargetModeSingle varies exactly one side per candidate, fixed at
	// creation.
	TargetModeSingle = "single"

	// TargetModeBoth lets a candidate vary pre and post together.
	TargetModeBoth = "both"
)

// Gate modes.
const (
	// GateConditions skips repair when pre and post each meet the threshold.
	GateConditions = "conditions"

	// GateImplication skips repair when the implication meets the threshold.
	GateImplication = "implication"
)

// Config holds all repair engine parameters.
//
// Use DefaultConfig() and override fields, or load a preset with Preset().
type Config struct {
	// Generations is the iteration budget.
	Generations int `json:"generations" yaml:"generations" validate:"gte=1"`

	// PopulationSize is N, the number of survivors per generation.
	PopulationSize int `json:"population_size" yaml:"population_size" validate:"gte=1"`

	// NumOffspring is how many offspring are bred per generation.
	NumOffspring int `json:"num_offspring" yaml:"num_offspring" validate:"gte=1"`

	// RandomOffspring draws offspring parents at random instead of iterating
	// the parent pool in order.
	RandomOffspring bool `json:"random_offspring" yaml:"random_offspring"`

	// CrossoverProb is the probability that a pair is recombined.
	CrossoverProb float64 `json:"crossover_prob" yaml:"crossover_prob" validate:"gte=0,lte=1"`

	// MutationProb is the probability that an offspring is mutated.
	MutationProb float64 `json:"mutation_prob" yaml:"mutation_prob" validate:"gte=0,lte=1"`

	// Pre and post tree depth bounds for initialization.
	PreMinDepth  int `json:"pre_min_depth" yaml:"pre_min_depth" validate:"gte=0"`
	PreMaxDepth  int `json:"pre_max_depth" yaml:"pre_max_depth" validate:"gte=0"`
	PostMinDepth int `json:"post_min_depth" yaml:"post_min_depth" validate:"gte=0"`
	PostMaxDepth int `json:"post_max_depth" yaml:"post_max_depth" validate:"gte=0"`

	// Depth bounds of subtrees grown by mutation.
	MutationMinDepth int `json:"mutation_min_depth" yaml:"mutation_min_depth" validate:"gte=0"`
	MutationMaxDepth int `json:"mutation_max_depth" yaml:"mutation_max_depth" validate:"gte=0"`

	// MaxTreeSize caps the node count of generated and varied trees.
	// Oversized initial trees are regenerated and oversized variations are
	// reverted. The original requirement is exempt.
	MaxTreeSize int `json:"max_tree_size" yaml:"max_tree_size" validate:"gte=1"`

	// RangeWidening widens the ephemeral constant window.
	RangeWidening float64 `json:"range_widening" yaml:"range_widening" validate:"gte=0"`

	// Threshold is the satisfaction percentage above which no repair runs.
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=100"`

	// Epsilon is the tolerance below zero still counted as satisfied.
	Epsilon float64 `json:"epsilon" yaml:"epsilon" validate:"gte=0"`

	// Aggregation is weighted_sum or no_aggregation.
	Aggregation string `json:"aggregation" yaml:"aggregation" validate:"oneof=weighted_sum no_aggregation"`

	// TargetMode is single or both.
	TargetMode string `json:"target_mode" yaml:"target_mode" validate:"oneof=single both"`

	// GateMode is conditions or implication.
	GateMode string `json:"gate_mode" yaml:"gate_mode" validate:"oneof=conditions implication"`

	// Strategies names the desirability strategy per dimension.
	Strategies desirability.Strategies `json:"strategies" yaml:"strategies"`

	// Weights scales each desirability dimension; zero disables it.
	Weights desirability.Weights `json:"weights" yaml:"weights"`

	// DesirabilityOptions tunes the strategies.
	DesirabilityOptions desirability.Options `json:"desirability_options" yaml:"desirability_options"`

	// Workers bounds parallel fitness evaluation. 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers" validate:"gte=0"`

	// Seed makes a run reproducible.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns the baseline approach configuration.
func DefaultConfig() Config {
	return Config{
		Generations:      50,
		PopulationSize:   10,
		NumOffspring:     10,
		RandomOffspring:  false,
		CrossoverProb:    0.5,
		MutationProb:     0.3,
		PreMinDepth:      2,
		PreMaxDepth:      3,
		PostMinDepth:     2,
		PostMaxDepth:     3,
		MutationMinDepth: 1,
		MutationMaxDepth: 2,
		MaxTreeSize:      24,
		RangeWidening:    0,
		Threshold:        100,
		Epsilon:          1e-6,
		Aggregation:      AggregationWeightedSum,
		TargetMode:       TargetModeSingle,
		GateMode:         GateConditions,
		Strategies: desirability.Strategies{
			Sanity:     "combined",
			Similarity: "ted",
			Extent:     "extent",
		},
		Weights: desirability.Weights{
			Sanity:     1,
			Similarity: 1,
			Extent:     1,
		},
		DesirabilityOptions: desirability.DefaultOptions(),
		Workers:             0,
		Seed:                1,
	}
}

// presets are named variants of DefaultConfig.
var presets = map[string]func(*Config){
	"default": func(*Config) {},
	"alt_1": func(c *Config) {
		c.PopulationSize, c.NumOffspring, c.RandomOffspring = 20, 10, true
	},
	"alt_2": func(c *Config) {
		c.PopulationSize, c.NumOffspring, c.RandomOffspring = 10, 20, true
	},
	"alt_3": func(c *Config) {
		c.PopulationSize, c.NumOffspring, c.RandomOffspring = 10, 30, true
	},
	"alt_4": func(c *Config) {
		c.PopulationSize, c.NumOffspring, c.RandomOffspring = 20, 20, true
	},
	"alt_5": func(c *Config) { c.PreMaxDepth, c.PostMaxDepth = 3, 6 },
	"alt_6": func(c *Config) { c.PreMaxDepth, c.PostMaxDepth = 3, 9 },
	"alt_7": func(c *Config) { c.PreMaxDepth, c.PostMaxDepth = 6, 3 },
	"alt_8": func(c *Config) { c.PreMaxDepth, c.PostMaxDepth = 9, 3 },
	"hp_increase_num_offsprings": func(c *Config) {
		c.PopulationSize, c.NumOffspring = 10, 20
	},
	"hp_increase_tree_depth": func(c *Config) { c.PreMaxDepth, c.PostMaxDepth = 6, 6 },
}

// Preset returns DefaultConfig modified by the named preset.
func Preset(name string) (Config, error) {
	apply, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q (known: %v)", ErrInvalidConfig, name, PresetNames())
	}
	cfg := DefaultConfig()
	apply(&cfg)
	return cfg, nil
}

// PresetNames lists the available presets.
func PresetNames() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Validate checks invariants that struct tags cannot express.
func (c *Config) Validate() error {
	switch {
	case c.Generations < 1:
		return fmt.Errorf("%w: generations must be >= 1", ErrInvalidConfig)
	case c.PopulationSize < 1:
		return fmt.Errorf("%w: population_size must be >= 1", ErrInvalidConfig)
	case c.NumOffspring < 1:
		return fmt.Errorf("%w: num_offspring must be >= 1", ErrInvalidConfig)
	case c.CrossoverProb < 0 || c.CrossoverProb > 1:
		return fmt.Errorf("%w: crossover_prob must be in [0, 1]", ErrInvalidConfig)
	case c.MutationProb < 0 || c.MutationProb > 1:
		return fmt.Errorf("%w: mutation_prob must be in [0, 1]", ErrInvalidConfig)
	case c.PreMinDepth < 0 || c.PreMinDepth > c.PreMaxDepth:
		return fmt.Errorf("%w: pre depth bounds [%d, %d] invalid", ErrInvalidConfig, c.PreMinDepth, c.PreMaxDepth)
	case c.PostMinDepth < 0 || c.PostMinDepth > c.PostMaxDepth:
		return fmt.Errorf("%w: post depth bounds [%d, %d] invalid", ErrInvalidConfig, c.PostMinDepth, c.PostMaxDepth)
	case c.MutationMinDepth < 0 || c.MutationMinDepth > c.MutationMaxDepth:
		return fmt.Errorf("%w: mutation depth bounds [%d, %d] invalid", ErrInvalidConfig, c.MutationMinDepth, c.MutationMaxDepth)
	case c.MaxTreeSize < 1:
		return fmt.Errorf("%w: max_tree_size must be >= 1", ErrInvalidConfig)
	case c.RangeWidening < 0:
		return fmt.Errorf("%w: range_widening must be >= 0", ErrInvalidConfig)
	case c.Threshold < 0 || c.Threshold > 100:
		return fmt.Errorf("%w: threshold must be in [0, 100]", ErrInvalidConfig)
	case c.Epsilon < 0:
		return fmt.Errorf("%w: epsilon must be >= 0", ErrInvalidConfig)
	case c.Aggregation != AggregationWeightedSum && c.Aggregation != AggregationNone:
		return fmt.Errorf("%w: aggregation must be %q or %q", ErrInvalidConfig, AggregationWeightedSum, AggregationNone)
	case c.TargetMode != TargetModeSingle && c.TargetMode != TargetModeBoth:
		return fmt.Errorf("%w: target_mode must be %q or %q", ErrInvalidConfig, TargetModeSingle, TargetModeBoth)
	case c.GateMode != GateConditions && c.GateMode != GateImplication:
		return fmt.Errorf("%w: gate_mode must be %q or %q", ErrInvalidConfig, GateConditions, GateImplication)
	case c.Weights.Sanity < 0 || c.Weights.Similarity < 0 || c.Weights.Extent < 0:
		return fmt.Errorf("%w: weights must be >= 0", ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Satisfied reports whether rep meets the threshold under the gate mode.
func (c *Config) Satisfied(rep robustness.Report) bool {
	if c.GateMode == GateImplication {
		return rep.Implication.ItemPercent() >= c.Threshold
	}
	return rep.Pre.ItemPercent() >= c.Threshold && rep.Post.ItemPercent() >= c.Threshold
}

// workers resolves the effective worker count.
func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
