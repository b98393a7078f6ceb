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
	"math/rand/v2"

	"github.com/AleutianAI/reqrepair/services/repair/desirability"
	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
	"golang.org/x/sync/errgroup"
)

// Evaluator computes the satisfaction report of a requirement.
//
// *robustness.Evaluator implements it.
type Evaluator interface {
	Satisfaction(ctx context.Context, suite *trace.Suite, req grammar.Requirement) (robustness.Report, error)
}

// fitnessFunc turns evaluations into objective vectors.
type fitnessFunc struct {
	eval        Evaluator
	desir       *desirability.Desirability
	aggregation string
	suite       *trace.Suite
	original    grammar.Requirement
	origReport  robustness.Report
	workers     int
}

// objectives builds the minimized objective vector.
func (f *fitnessFunc) objectives(rep robustness.Report, v desirability.Values) []float64 {
	out := []float64{rep.Correctness()}
	if f.aggregation == AggregationNone {
		return append(out, f.desir.Separate(v)...)
	}
	return append(out, f.desir.Weighted(v))
}

// evaluate fills the fitness of every invalid candidate.
//
// Description:
//
//	Seeds are drawn from rng in population order before any worker starts,
//	so results do not depend on scheduling. Each worker writes only to its
//	own candidate.
//
// Outputs:
//
//	int - Number of candidates evaluated.
//	error - The first evaluation failure, wrapped with the candidate genome.
func (f *fitnessFunc) evaluate(ctx context.Context, pop []*Candidate, rng *rand.Rand) (int, error) {
	type job struct {
		c     *Candidate
		seed1 uint64
		seed2 uint64
	}
	var jobs []job
	for _, c := range pop {
		if c.Valid() {
			continue
		}
		jobs = append(jobs, job{c: c, seed1: rng.Uint64(), seed2: rng.Uint64()})
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for _, j := range jobs {
		g.Go(func() error {
			rep, err := f.eval.Satisfaction(gctx, f.suite, j.c.Req)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", j.c.Req.Key(), err)
			}
			vals, err := f.desir.Evaluate(gctx, desirability.Input{
				Suite:           f.suite,
				Candidate:       j.c.Req,
				Original:        f.original,
				CandidateReport: rep,
				OriginalReport:  f.origReport,
				Rand:            rand.New(rand.NewPCG(j.seed1, j.seed2)),
			})
			if err != nil {
				return fmt.Errorf("candidate %s: desirability: %w", j.c.Req.Key(), err)
			}
			j.c.Report = rep
			j.c.Values = vals
			j.c.Fitness = f.objectives(rep, vals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(jobs), nil
}
