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
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
)

// BaselineConfig configures the constant-perturbation baseline.
type BaselineConfig struct {
	// Iterations is the perturbation budget.
	Iterations int `json:"iterations" yaml:"iterations" validate:"gte=1"`

	// Variation bounds each perturbation to uniform(-Variation, Variation).
	Variation float64 `json:"variation" yaml:"variation" validate:"gt=0"`

	// Threshold is the implication satisfaction percentage that ends the
	// search.
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=100"`

	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultBaselineConfig returns 100 iterations of unit perturbations.
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{Iterations: 100, Variation: 1, Threshold: 100, Seed: 1}
}

// ChangeConstant repairs a requirement by nudging its numeric constants.
//
// Description:
//
//	Each iteration picks one numeric literal of the current best
//	requirement, adds uniform(-Variation, Variation) and keeps the change
//	if correctness improves. Duration literals stay non-negative integers.
//	The search ends when the implication meets the threshold or the budget
//	is spent. A requirement without numeric literals is returned unchanged.
//
// Inputs:
//
//	ctx - Cancels between iterations.
//	eval - Satisfaction evaluator.
//	p - Problem to repair.
//	cfg - Budget and step size.
//
// Outputs:
//
//	*Result - One solution: the best requirement found.
//	error - ErrInvalidConfig, ErrInvalidProblem or a *RepairError.
func ChangeConstant(ctx context.Context, eval Evaluator, p *Problem, cfg BaselineConfig) (*Result, error) {
	if cfg.Iterations < 1 || cfg.Variation <= 0 || cfg.Threshold < 0 || cfg.Threshold > 100 {
		return nil, fmt.Errorf("%w: baseline needs iterations >= 1, variation > 0, threshold in [0, 100]", ErrInvalidConfig)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^seedStream))

	best := &Candidate{Req: p.Original.Clone(), Target: TargetBoth}
	rep, err := eval.Satisfaction(ctx, p.Suite, best.Req)
	if err != nil {
		return nil, &RepairError{Stage: StageGate, Err: err}
	}
	best.Report = rep
	best.Fitness = []float64{rep.Correctness()}

	res := &Result{Initial: solutionOf(best), Evaluations: 1, StopReason: StopBudget}
	if rep.Implication.ItemPercent() >= cfg.Threshold {
		res.NoRepairNeeded = true
		res.StopReason = StopNoRepairNeeded
		res.Duration = time.Since(start)
		return res, nil
	}

	for it := 1; it <= cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, &RepairError{Stage: StageGeneration, Generation: it, Err: err}
		}
		next, ok := perturbConstant(best.Req, rng, cfg.Variation)
		if !ok {
			break
		}
		rep, err := eval.Satisfaction(ctx, p.Suite, next)
		if err != nil {
			return nil, &RepairError{Stage: StageEvaluate, Generation: it, Err: err}
		}
		res.Evaluations++
		res.Generations = it
		if rep.Correctness() < best.Fitness[0] {
			best = &Candidate{Req: next, Target: TargetBoth, Report: rep, Fitness: []float64{rep.Correctness()}, Generation: it}
		}
		if best.Report.Implication.ItemPercent() >= cfg.Threshold {
			res.StopReason = StopPerfect
			break
		}
	}

	res.Solutions = []Solution{solutionOf(best)}
	res.Duration = time.Since(start)
	return res, nil
}

// perturbConstant returns a copy of req with one numeric literal moved.
func perturbConstant(req grammar.Requirement, rng *rand.Rand, variation float64) (grammar.Requirement, bool) {
	type site struct {
		side grammar.Side
		idx  int
	}
	var sites []site
	for _, side := range []grammar.Side{grammar.SidePre, grammar.SidePost} {
		for i, n := range req.Side(side) {
			if n.IsNumeric() && (n.Type == grammar.TypeReal || n.Type == grammar.TypeDuration) {
				sites = append(sites, site{side, i})
			}
		}
	}
	if len(sites) == 0 {
		return req, false
	}

	s := sites[rng.IntN(len(sites))]
	tree := req.Side(s.side).Clone()
	n := tree[s.idx]
	v := n.Value + (rng.Float64()*2-1)*variation
	if n.Type == grammar.TypeDuration {
		v = math.Max(0, math.Round(v))
	}
	tree[s.idx] = grammar.EphemeralNode(n.Type, v)
	return req.Clone().WithSide(s.side, tree), true
}
