// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package robustness

import (
	"context"
	"math"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
)

// Degree summarizes one condition over a whole suite.
type Degree struct {
	// Worst is the minimum item-level robustness.
	Worst float64 `json:"worst"`

	// ItemRatio is satisfied items over all items, in [0, 1].
	ItemRatio float64 `json:"item_ratio"`

	// ItemViolations is the number of unsatisfied items.
	ItemViolations int `json:"item_violations"`

	// Items is the number of (trace, index) pairs evaluated.
	Items int `json:"items"`

	// TraceRatio is fully satisfied traces over all traces, in [0, 1].
	TraceRatio float64 `json:"trace_ratio"`

	// TraceViolations is the number of traces with at least one violation.
	TraceViolations int `json:"trace_violations"`

	// Traces is the number of traces evaluated.
	Traces int `json:"traces"`
}

// ItemPercent returns the item satisfaction ratio as a percentage.
func (d Degree) ItemPercent() float64 {
	return 100 * d.ItemRatio
}

// TracePercent returns the trace satisfaction ratio as a percentage.
func (d Degree) TracePercent() float64 {
	return 100 * d.TraceRatio
}

// Report holds the degrees of a requirement's three conditions.
type Report struct {
	Pre         Degree `json:"pre"`
	Post        Degree `json:"post"`
	Implication Degree `json:"implication"`
}

// Correctness is max(0, -worst implication robustness); 0 is fully correct.
func (r Report) Correctness() float64 {
	return math.Max(0, -r.Implication.Worst)
}

// degreeAcc accumulates one Degree.
type degreeAcc struct {
	worst         float64
	satisfied     int
	items         int
	tracesOK      int
	traces        int
	traceViolated bool
}

func newAcc() degreeAcc {
	return degreeAcc{worst: math.Inf(1)}
}

func (a *degreeAcc) add(rob float64, ok bool) {
	a.worst = math.Min(a.worst, rob)
	a.items++
	if ok {
		a.satisfied++
	} else {
		a.traceViolated = true
	}
}

func (a *degreeAcc) endTrace() {
	a.traces++
	if !a.traceViolated {
		a.tracesOK++
	}
	a.traceViolated = false
}

func (a *degreeAcc) degree() Degree {
	d := Degree{
		Worst:           a.worst,
		Items:           a.items,
		ItemViolations:  a.items - a.satisfied,
		Traces:          a.traces,
		TraceViolations: a.traces - a.tracesOK,
	}
	if a.items > 0 {
		d.ItemRatio = float64(a.satisfied) / float64(a.items)
	}
	if a.traces > 0 {
		d.TraceRatio = float64(a.tracesOK) / float64(a.traces)
	}
	return d
}

// Satisfaction evaluates a requirement over every sample of every trace.
//
// Description:
//
//	For each (trace, index) the precondition, postcondition and their
//	implication are evaluated. The implication robustness is derived as
//	max(-pre, post), which equals evaluating the merged tree.
//
// Inputs:
//
//	ctx - Checked between traces for cancellation.
//	suite - The trace suite; must be non-empty.
//	req - The requirement.
//
// Outputs:
//
//	Report - Degrees for pre, post and implication.
//	error - The first evaluation error, or ctx.Err().
func (e *Evaluator) Satisfaction(ctx context.Context, suite *trace.Suite, req grammar.Requirement) (Report, error) {
	if suite == nil || suite.Len() == 0 {
		return Report{}, trace.ErrEmptySuite
	}
	pre, post, impl := newAcc(), newAcc(), newAcc()
	for ti := 0; ti < suite.Len(); ti++ {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		tr := suite.Trace(ti)
		for i := 0; i < tr.Len(); i++ {
			p, err := e.Evaluate(req.Pre, tr, i)
			if err != nil {
				return Report{}, err
			}
			q, err := e.Evaluate(req.Post, tr, i)
			if err != nil {
				return Report{}, err
			}
			m := math.Max(-p, q)
			pre.add(p, e.Satisfied(p))
			post.add(q, e.Satisfied(q))
			impl.add(m, e.Satisfied(m))
		}
		pre.endTrace()
		post.endTrace()
		impl.endTrace()
	}
	return Report{Pre: pre.degree(), Post: post.degree(), Implication: impl.degree()}, nil
}

// TreeDegree evaluates a single tree over the suite.
func (e *Evaluator) TreeDegree(ctx context.Context, suite *trace.Suite, tree grammar.Tree) (Degree, error) {
	if suite == nil || suite.Len() == 0 {
		return Degree{}, trace.ErrEmptySuite
	}
	acc := newAcc()
	for ti := 0; ti < suite.Len(); ti++ {
		if err := ctx.Err(); err != nil {
			return Degree{}, err
		}
		tr := suite.Trace(ti)
		for i := 0; i < tr.Len(); i++ {
			v, err := e.Evaluate(tree, tr, i)
			if err != nil {
				return Degree{}, err
			}
			acc.add(v, e.Satisfied(v))
		}
		acc.endTrace()
	}
	return acc.degree(), nil
}
