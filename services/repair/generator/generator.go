// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator produces random well-typed expression trees.
package generator

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
)

// ErrGeneration indicates the grammar offered nothing to place at some
// position. This is a grammar defect, not a runtime condition.
var ErrGeneration = errors.New("tree generation failed")

// GenerationError records where generation got stuck.
type GenerationError struct {
	Grammar string
	Type    grammar.Type
	Depth   int
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v: no candidate of type %s at depth %d in %s grammar", ErrGeneration, e.Type, e.Depth, e.Grammar)
}

func (e *GenerationError) Unwrap() error {
	return ErrGeneration
}

// Shape is the tree shape policy.
type Shape int

const (
	// ShapeFull stops only at the drawn height.
	ShapeFull Shape = iota

	// ShapeGrow may stop early once deep enough.
	ShapeGrow
)

// String returns the shape name.
func (s Shape) String() string {
	if s == ShapeFull {
		return "full"
	}
	return "grow"
}

const (
	// growMinDepth is the shallowest depth at which grow may stop early.
	growMinDepth = 2

	// boolArgCutoff is the remaining depth at or below which operators
	// taking Bool arguments are not offered.
	boolArgCutoff = 2
)

// Generator draws trees from a primitive set.
//
// # Thread Safety
//
// Not safe for concurrent use; the random source is owned by the caller.
type Generator struct {
	rng *rand.Rand
}

// New returns a generator drawing from rng.
func New(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Rand exposes the random source.
func (g *Generator) Rand() *rand.Rand {
	return g.rng
}

// Generate draws a tree, picking full or grow with equal probability.
//
// Description:
//
//	A height is drawn uniformly from [minDepth, maxDepth] and the tree is
//	built depth first. The tree's height always lies in that range: above
//	minDepth terminals compete with operators, below it only operators that
//	can extend the tree are offered.
//
// Inputs:
//
//	pset - Grammar to draw from.
//	minDepth, maxDepth - Height bounds, 0 <= minDepth <= maxDepth.
//	want - Root type.
//
// Outputs:
//
//	grammar.Tree - A tree that type-checks against want.
//	error - *GenerationError if the grammar is missing a candidate.
func (g *Generator) Generate(pset *grammar.PrimitiveSet, minDepth, maxDepth int, want grammar.Type) (grammar.Tree, error) {
	shape := ShapeFull
	if g.rng.IntN(2) == 1 {
		shape = ShapeGrow
	}
	return g.GenerateShape(pset, minDepth, maxDepth, want, shape)
}

// GenerateShape draws a tree with a fixed shape policy.
func (g *Generator) GenerateShape(pset *grammar.PrimitiveSet, minDepth, maxDepth int, want grammar.Type, shape Shape) (grammar.Tree, error) {
	if minDepth < 0 || maxDepth < minDepth {
		return nil, fmt.Errorf("%w: invalid depth bounds [%d, %d]", ErrGeneration, minDepth, maxDepth)
	}
	height := minDepth + g.rng.IntN(maxDepth-minDepth+1)

	type frame struct {
		depth int
		typ   grammar.Type
	}
	var tree grammar.Tree
	stack := []frame{{0, want}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		stop := f.depth >= height ||
			(shape == ShapeGrow && f.depth >= minDepth && f.depth >= growMinDepth && g.rng.Float64() < 0.5)

		var ops []grammar.OpSpec
		if !stop {
			ops = g.operatorCandidates(pset, f.typ, height-f.depth, f.depth < minDepth)
		}
		terms := pset.Terminals(f.typ)
		if len(pset.Operators(f.typ)) > 0 && f.depth < minDepth && len(ops) > 0 {
			terms = nil
		}

		total := len(ops) + len(terms)
		if total == 0 {
			return nil, &GenerationError{Grammar: pset.Name(), Type: f.typ, Depth: f.depth}
		}
		pick := g.rng.IntN(total)
		if pick < len(terms) {
			tree = append(tree, terms[pick].Instantiate(g.rng))
			continue
		}
		op := ops[pick-len(terms)]
		tree = append(tree, grammar.OperatorNode(op.Op))
		for k := len(op.Args) - 1; k >= 0; k-- {
			stack = append(stack, frame{f.depth + 1, op.Args[k]})
		}
	}
	return tree, nil
}

// operatorCandidates lists the operators eligible at a position.
func (g *Generator) operatorCandidates(pset *grammar.PrimitiveSet, typ grammar.Type, remaining int, mustExtend bool) []grammar.OpSpec {
	var out []grammar.OpSpec
	for _, op := range pset.Operators(typ) {
		if remaining <= boolArgCutoff && op.HasBoolArg() {
			continue
		}
		if mustExtend && !extends(pset, op) {
			continue
		}
		out = append(out, op)
	}
	return out
}

// extends reports whether op has an argument type that operators can produce,
// so choosing it can lengthen the path below it.
func extends(pset *grammar.PrimitiveSet, op grammar.OpSpec) bool {
	for _, a := range op.Args {
		if len(pset.Operators(a)) > 0 {
			return true
		}
	}
	return false
}
