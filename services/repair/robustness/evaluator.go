// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package robustness computes quantitative satisfaction of requirement trees
// over traces.
//
// A robustness value is a signed degree: non-negative means the condition
// holds at the sample, and its magnitude says by how much. Evaluation is pure
// and may run concurrently over a shared suite.
package robustness

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
)

// DefaultEpsilon is the tolerance below zero still counted as satisfied.
const DefaultEpsilon = 1e-6

var (
	// ErrEvaluation indicates a tree that cannot be evaluated.
	ErrEvaluation = errors.New("evaluation failed")

	// ErrIndexOutOfRange indicates a sample index outside the trace.
	ErrIndexOutOfRange = errors.New("sample index out of range")
)

// EvalError wraps an evaluation failure with the offending subtree.
type EvalError struct {
	Subtree string
	Err     error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Subtree, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Evaluator interprets trees against trace samples.
//
// # Thread Safety
//
// Stateless apart from configuration; safe for concurrent use.
type Evaluator struct {
	prev0   float64
	epsilon float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPrev0 sets the value prev yields at the first sample.
func WithPrev0(v float64) Option {
	return func(e *Evaluator) { e.prev0 = v }
}

// WithEpsilon sets the satisfaction tolerance.
func WithEpsilon(eps float64) Option {
	return func(e *Evaluator) { e.epsilon = eps }
}

// NewEvaluator returns an evaluator with DefaultEpsilon and prev0 = 0.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{epsilon: DefaultEpsilon}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ForSuite returns an evaluator using the suite's prev default.
func ForSuite(s *trace.Suite, opts ...Option) *Evaluator {
	return NewEvaluator(append([]Option{WithPrev0(s.Prev0)}, opts...)...)
}

// Epsilon returns the satisfaction tolerance.
func (e *Evaluator) Epsilon() float64 {
	return e.epsilon
}

// Satisfied reports whether a robustness value counts as satisfied.
func (e *Evaluator) Satisfied(rob float64) bool {
	return rob >= -e.epsilon
}

// Evaluate computes the robustness of tree at one sample.
//
// Description:
//
//	Walks the preorder node sequence, consuming exactly one subtree per
//	operator argument. dur always consumes its condition, even when the
//	sample lies outside the window and the result is 0.
//
// Inputs:
//
//	tree - A type-correct tree.
//	tr - The trace.
//	index - Sample index, 0 <= index < tr.Len().
//
// Outputs:
//
//	float64 - The robustness value (or the real value for Real trees).
//	error - *EvalError wrapping ErrEvaluation on malformed trees or unknown
//	        variables.
func (e *Evaluator) Evaluate(tree grammar.Tree, tr *trace.Trace, index int) (float64, error) {
	if index < 0 || index >= tr.Len() {
		return 0, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, tr.Len())
	}
	if len(tree) == 0 {
		return 0, &EvalError{Subtree: "", Err: fmt.Errorf("%w: empty tree", ErrEvaluation)}
	}
	c := cursor{e: e, tree: tree, tr: tr, index: index}
	v, err := c.eval()
	if err != nil {
		return 0, err
	}
	if c.pos != len(tree) {
		return 0, &EvalError{Subtree: tree.String(), Err: fmt.Errorf("%w: %d trailing nodes", ErrEvaluation, len(tree)-c.pos)}
	}
	return v, nil
}

// cursor walks one tree at one sample.
type cursor struct {
	e     *Evaluator
	tree  grammar.Tree
	tr    *trace.Trace
	index int
	pos   int
}

func (c *cursor) fail(start int, err error) error {
	end := start + 1
	if start < len(c.tree) {
		end = c.tree.SubtreeEnd(start)
	}
	if end > len(c.tree) {
		end = len(c.tree)
	}
	sub := ""
	if start < len(c.tree) {
		sub = c.tree[start:end].String()
	}
	return &EvalError{Subtree: sub, Err: fmt.Errorf("%w: %v", ErrEvaluation, err)}
}

func (c *cursor) eval() (float64, error) {
	if c.pos >= len(c.tree) {
		return 0, c.fail(c.pos, errors.New("unexpected end of tree"))
	}
	start := c.pos
	n := c.tree[c.pos]
	c.pos++

	switch n.Kind {
	case grammar.KindConst, grammar.KindEphemeral:
		return n.Value, nil
	case grammar.KindVar:
		v, ok := c.tr.Value(c.index, n.Name)
		if !ok {
			return 0, c.fail(start, fmt.Errorf("unknown variable %q", n.Name))
		}
		return v, nil
	case grammar.KindPrevMarker:
		return 0, c.fail(start, errors.New("prev marker outside prev"))
	case grammar.KindOperator:
		return c.operator(start, n.Op)
	default:
		return 0, c.fail(start, fmt.Errorf("unrecognized node kind %s", n.Kind))
	}
}

func (c *cursor) operator(start int, op grammar.Op) (float64, error) {
	switch op {
	case grammar.OpPrev:
		return c.prev(start)
	case grammar.OpDur:
		return c.dur()
	case grammar.OpNot:
		a, err := c.eval()
		if err != nil {
			return 0, err
		}
		return -a, nil
	}

	a, err := c.eval()
	if err != nil {
		return 0, err
	}
	b, err := c.eval()
	if err != nil {
		return 0, err
	}
	switch op {
	case grammar.OpAdd:
		return a + b, nil
	case grammar.OpSub:
		return a - b, nil
	case grammar.OpLt, grammar.OpLe:
		return b - a, nil
	case grammar.OpGt, grammar.OpGe:
		return a - b, nil
	case grammar.OpEq:
		return -math.Abs(a - b), nil
	case grammar.OpAnd:
		return math.Min(a, b), nil
	case grammar.OpOr:
		return math.Max(a, b), nil
	case grammar.OpImplies:
		return math.Max(-a, b), nil
	default:
		return 0, c.fail(start, fmt.Errorf("no robustness rule for %s", op))
	}
}

func (c *cursor) prev(start int) (float64, error) {
	if c.pos >= len(c.tree) || c.tree[c.pos].Kind != grammar.KindPrevMarker {
		return 0, c.fail(start, errors.New("prev expects a variable marker"))
	}
	name := c.tree[c.pos].Name
	c.pos++
	if c.index == 0 {
		return c.e.prev0, nil
	}
	v, ok := c.tr.Value(c.index-1, name)
	if !ok {
		return 0, c.fail(start, fmt.Errorf("unknown variable %q", name))
	}
	return v, nil
}

func (c *cursor) dur() (float64, error) {
	t1, err := c.eval()
	if err != nil {
		return 0, err
	}
	t2, err := c.eval()
	if err != nil {
		return 0, err
	}
	phi, err := c.eval()
	if err != nil {
		return 0, err
	}
	now := c.tr.Time(c.index)
	if now < math.Min(t1, t2) || now > math.Max(t1, t2) {
		return 0, nil
	}
	return phi, nil
}
