// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grammar

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// StaticConstants are the fixed Real terminals present in every grammar.
var StaticConstants = []float64{-10, 0, 10}

// DefaultEphemeralRange is used when no variable range has been observed.
var DefaultEphemeralRange = [2]float64{-10, 10}

// VariableSource describes the variables a grammar is built over.
//
// trace.Suite implements this interface.
type VariableSource interface {
	// InputVariables returns the variables allowed in preconditions.
	InputVariables() []string

	// VariableNames returns all non-time variables, inputs first.
	VariableNames() []string

	// Bounds returns the smallest and largest value observed across all
	// variables. ok is false when nothing was observed.
	Bounds() (lo, hi float64, ok bool)

	// TimeSpan returns the largest observed time range of a single trace.
	TimeSpan() float64
}

// TerminalSpec describes a terminal the generator may emit.
type TerminalSpec struct {
	// Name identifies the terminal in diagnostics.
	Name string

	// Type is the terminal's return type.
	Type Type

	// node is the fixed node for non-ephemeral terminals.
	node Node

	// draw samples the value of an ephemeral terminal.
	draw func(r *rand.Rand) float64
}

// Ephemeral reports whether each instantiation draws a fresh value.
func (s TerminalSpec) Ephemeral() bool {
	return s.draw != nil
}

// Instantiate returns a node for this terminal.
func (s TerminalSpec) Instantiate(r *rand.Rand) Node {
	if s.draw == nil {
		return s.node
	}
	return EphemeralNode(s.Type, s.draw(r))
}

// PrimitiveSet is the typed vocabulary for one side of a requirement.
//
// # Thread Safety
//
// Immutable after construction.
type PrimitiveSet struct {
	name      string
	operators map[Type][]OpSpec
	terminals map[Type][]TerminalSpec
	variables []string
	known     map[string]bool
}

// Name returns "pre" or "post" for built sets.
func (p *PrimitiveSet) Name() string {
	return p.name
}

// Operators returns the operators returning t.
func (p *PrimitiveSet) Operators(t Type) []OpSpec {
	return p.operators[t]
}

// Terminals returns the terminals of type t.
func (p *PrimitiveSet) Terminals(t Type) []TerminalSpec {
	return p.terminals[t]
}

// Variables returns the in-scope variable names.
func (p *PrimitiveSet) Variables() []string {
	return slices.Clone(p.variables)
}

// HasOperator reports whether op is part of the grammar.
func (p *PrimitiveSet) HasOperator(op Op) bool {
	for _, s := range p.operators[op.Spec().Ret] {
		if s.Op == op {
			return true
		}
	}
	return false
}

// HasVariable reports whether name is in scope.
func (p *PrimitiveSet) HasVariable(name string) bool {
	return p.known[name]
}

// Validate checks that every type an operator can require has a terminal.
func (p *PrimitiveSet) Validate() error {
	required := map[Type]bool{TypeReal: true, TypeBool: true}
	for _, ops := range p.operators {
		for _, op := range ops {
			for _, a := range op.Args {
				required[a] = true
			}
		}
	}
	for _, t := range []Type{TypeReal, TypeBool, TypeDuration, TypePrevVar} {
		if required[t] && len(p.terminals[t]) == 0 {
			return fmt.Errorf("%w %s in %s grammar", ErrMissingTerminal, t, p.name)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Builder
// -----------------------------------------------------------------------------

// BuildOptions tunes the terminal set.
type BuildOptions struct {
	// RangeWidening widens the ephemeral Real window by this fraction of the
	// observed span on both sides.
	RangeWidening float64
}

// Build constructs the pre and post grammars for src.
//
// Description:
//
//	Both grammars share the operator set. The pre grammar only references
//	input variables, the post grammar references every variable.
//
// Inputs:
//
//	src - Variable names and observed ranges.
//	opts - Terminal tuning.
//
// Outputs:
//
//	pre, post - The two grammars.
//	error - Non-nil if a grammar would lack a terminal for some type.
func Build(src VariableSource, opts BuildOptions) (pre, post *PrimitiveSet, err error) {
	lo, hi := DefaultEphemeralRange[0], DefaultEphemeralRange[1]
	if l, h, ok := src.Bounds(); ok {
		span := h - l
		lo, hi = l-opts.RangeWidening*span, h+opts.RangeWidening*span
		if lo == hi {
			lo, hi = lo-1, hi+1
		}
	}
	maxDur := math.Max(0, math.Floor(src.TimeSpan()))

	pre = newPrimitiveSet("pre", src.InputVariables(), lo, hi, maxDur)
	post = newPrimitiveSet("post", src.VariableNames(), lo, hi, maxDur)
	if err := pre.Validate(); err != nil {
		return nil, nil, err
	}
	if err := post.Validate(); err != nil {
		return nil, nil, err
	}
	return pre, post, nil
}

// NewPrimitiveSet builds a grammar over the given variables with explicit
// ephemeral bounds.
func NewPrimitiveSet(name string, variables []string, lo, hi, maxDuration float64) (*PrimitiveSet, error) {
	p := newPrimitiveSet(name, variables, lo, hi, maxDuration)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func newPrimitiveSet(name string, variables []string, lo, hi, maxDur float64) *PrimitiveSet {
	p := &PrimitiveSet{
		name:      name,
		operators: make(map[Type][]OpSpec),
		terminals: make(map[Type][]TerminalSpec),
		variables: slices.Clone(variables),
		known:     make(map[string]bool, len(variables)),
	}
	for _, spec := range operatorTable {
		// prev needs at least one variable to refer to.
		if spec.Op == OpPrev && len(variables) == 0 {
			continue
		}
		p.operators[spec.Ret] = append(p.operators[spec.Ret], spec)
	}

	for _, c := range StaticConstants {
		p.addTerminal(TerminalSpec{Name: FormatNumber(c), Type: TypeReal, node: ConstNode(TypeReal, c)})
	}
	p.addTerminal(TerminalSpec{Name: "True", Type: TypeBool, node: BoolNode(true)})
	p.addTerminal(TerminalSpec{Name: "False", Type: TypeBool, node: BoolNode(false)})

	for _, v := range variables {
		p.known[v] = true
		p.addTerminal(TerminalSpec{Name: v, Type: TypeReal, node: VarNode(v)})
		p.addTerminal(TerminalSpec{Name: "_" + v, Type: TypePrevVar, node: PrevMarkerNode(v)})
	}

	p.addTerminal(TerminalSpec{
		Name: "rand_float",
		Type: TypeReal,
		draw: func(r *rand.Rand) float64 { return lo + r.Float64()*(hi-lo) },
	})
	top := int(maxDur)
	p.addTerminal(TerminalSpec{
		Name: "rand_dur",
		Type: TypeDuration,
		draw: func(r *rand.Rand) float64 { return float64(r.IntN(top + 1)) },
	})
	return p
}

func (p *PrimitiveSet) addTerminal(s TerminalSpec) {
	p.terminals[s.Type] = append(p.terminals[s.Type], s)
}
