// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace holds recorded executions and the suites they form.
//
// Traces are immutable after construction, so a Suite can be shared by any
// number of concurrent evaluators without locking.
package trace

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// DefaultTimeVariable is the column holding sample timestamps.
const DefaultTimeVariable = "Time"

var (
	// ErrEmptySuite indicates a suite without traces.
	ErrEmptySuite = errors.New("trace suite is empty")

	// ErrEmptyTrace indicates a trace without samples.
	ErrEmptyTrace = errors.New("trace has no samples")

	// ErrSchemaMismatch indicates traces with different variable sets.
	ErrSchemaMismatch = errors.New("trace variables do not match across traces")

	// ErrMissingTime indicates a sample without the time variable.
	ErrMissingTime = errors.New("sample is missing the time variable")

	// ErrMissingVariable indicates a sample without a schema variable.
	ErrMissingVariable = errors.New("sample is missing a variable")

	// ErrNonMonotonicTime indicates timestamps that do not strictly increase.
	ErrNonMonotonicTime = errors.New("trace time is not strictly increasing")

	// ErrUnknownVariable indicates an input variable absent from the schema.
	ErrUnknownVariable = errors.New("unknown input variable")
)

// Sample maps variable names to values at one timestamp.
type Sample map[string]float64

// Range is an observed closed interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// -----------------------------------------------------------------------------
// Trace
// -----------------------------------------------------------------------------

// Trace is a time-ordered series of samples from one execution.
type Trace struct {
	name    string
	timeVar string
	columns []string
	index   map[string]int
	rows    [][]float64
}

// New builds a trace from samples.
//
// Description:
//
//	Every sample must carry the same variables as the first one, including
//	timeVar. Timestamps must strictly increase.
//
// Inputs:
//
//	name - Identifier, typically the source file name.
//	timeVar - Name of the time variable ("" means DefaultTimeVariable).
//	samples - Samples in time order.
//
// Outputs:
//
//	*Trace - The immutable trace.
//	error - Non-nil if samples are empty or inconsistent.
func New(name, timeVar string, samples []Sample) (*Trace, error) {
	if timeVar == "" {
		timeVar = DefaultTimeVariable
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyTrace)
	}
	if _, ok := samples[0][timeVar]; !ok {
		return nil, fmt.Errorf("%s: %w %q", name, ErrMissingTime, timeVar)
	}
	columns := slices.Sorted(maps.Keys(samples[0]))

	rows := make([][]float64, len(samples))
	for i, s := range samples {
		if len(s) != len(columns) {
			return nil, fmt.Errorf("%s: sample %d: %w", name, i, ErrSchemaMismatch)
		}
		row := make([]float64, len(columns))
		for c, col := range columns {
			v, ok := s[col]
			if !ok {
				return nil, fmt.Errorf("%s: sample %d: %w %q", name, i, ErrMissingVariable, col)
			}
			row[c] = v
		}
		rows[i] = row
	}
	return newTrace(name, timeVar, columns, rows)
}

func newTrace(name, timeVar string, columns []string, rows [][]float64) (*Trace, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	tcol, ok := index[timeVar]
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", name, ErrMissingTime, timeVar)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyTrace)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i][tcol] <= rows[i-1][tcol] {
			return nil, fmt.Errorf("%s: row %d: %w", name, i, ErrNonMonotonicTime)
		}
	}
	return &Trace{name: name, timeVar: timeVar, columns: columns, index: index, rows: rows}, nil
}

// Name returns the trace identifier.
func (t *Trace) Name() string { return t.name }

// Len returns the number of samples.
func (t *Trace) Len() int { return len(t.rows) }

// Variables returns the variable names including time, sorted.
func (t *Trace) Variables() []string { return slices.Clone(t.columns) }

// TimeVariable returns the name of the time column.
func (t *Trace) TimeVariable() string { return t.timeVar }

// Time returns the timestamp of sample i.
func (t *Trace) Time(i int) float64 {
	return t.rows[i][t.index[t.timeVar]]
}

// Value returns the value of name at sample i.
func (t *Trace) Value(i int, name string) (float64, bool) {
	c, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.rows[i][c], true
}

// Sample returns a copy of sample i.
func (t *Trace) Sample(i int) Sample {
	s := make(Sample, len(t.columns))
	for c, name := range t.columns {
		s[name] = t.rows[i][c]
	}
	return s
}

// Duration returns the time between the first and last sample.
func (t *Trace) Duration() float64 {
	return t.Time(len(t.rows)-1) - t.Time(0)
}

// -----------------------------------------------------------------------------
// Suite
// -----------------------------------------------------------------------------

// Suite is a set of traces sharing one schema.
//
// Suite implements grammar.VariableSource.
type Suite struct {
	traces    []*Trace
	timeVar   string
	inputs    []string
	names     []string
	units     map[string]string
	ranges    map[string]Range
	timeSpan  float64
	itemCount int

	// Prev0 is the value prev yields at the first sample of a trace.
	Prev0 float64
}

// SuiteOption configures NewSuite.
type SuiteOption func(*Suite)

// WithUnits records physical units per variable.
func WithUnits(units map[string]string) SuiteOption {
	return func(s *Suite) {
		for k, v := range units {
			s.units[k] = v
		}
	}
}

// WithPrev0 sets the value prev yields at index 0.
func WithPrev0(v float64) SuiteOption {
	return func(s *Suite) { s.Prev0 = v }
}

// NewSuite validates traces against each other and indexes them.
//
// Description:
//
//	All traces must have identical variable sets and time variables. The
//	variable order is the input variables as given followed by the remaining
//	variables sorted by name; the time variable is excluded.
//
// Inputs:
//
//	traces - At least one trace.
//	inputs - Variables allowed in preconditions; each must exist.
//	opts - Optional units and prev default.
//
// Outputs:
//
//	*Suite - The indexed suite.
//	error - ErrEmptySuite, ErrSchemaMismatch or ErrUnknownVariable.
func NewSuite(traces []*Trace, inputs []string, opts ...SuiteOption) (*Suite, error) {
	if len(traces) == 0 {
		return nil, ErrEmptySuite
	}
	first := traces[0]
	for _, t := range traces[1:] {
		if t.timeVar != first.timeVar || !slices.Equal(t.columns, first.columns) {
			return nil, fmt.Errorf("%w: %s vs %s", ErrSchemaMismatch, first.name, t.name)
		}
	}

	inSet := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in == first.timeVar {
			return nil, fmt.Errorf("%w: %q is the time variable", ErrUnknownVariable, in)
		}
		if _, ok := first.index[in]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, in)
		}
		inSet[in] = true
	}
	names := slices.Clone(inputs)
	for _, c := range first.columns {
		if c != first.timeVar && !inSet[c] {
			names = append(names, c)
		}
	}
	slices.Sort(names[len(inputs):])

	s := &Suite{
		traces:  slices.Clone(traces),
		timeVar: first.timeVar,
		inputs:  slices.Clone(inputs),
		names:   names,
		units:   make(map[string]string),
		ranges:  make(map[string]Range, len(names)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, t := range traces {
		s.itemCount += t.Len()
		s.timeSpan = math.Max(s.timeSpan, t.Duration())
		for i := range t.rows {
			for _, n := range names {
				v, _ := t.Value(i, n)
				r, seen := s.ranges[n]
				if !seen {
					s.ranges[n] = Range{Min: v, Max: v}
					continue
				}
				s.ranges[n] = Range{Min: math.Min(r.Min, v), Max: math.Max(r.Max, v)}
			}
		}
	}
	return s, nil
}

// Traces returns the traces in load order.
func (s *Suite) Traces() []*Trace { return slices.Clone(s.traces) }

// Len returns the number of traces.
func (s *Suite) Len() int { return len(s.traces) }

// Trace returns trace i.
func (s *Suite) Trace(i int) *Trace { return s.traces[i] }

// ItemCount returns the total number of samples across all traces.
func (s *Suite) ItemCount() int { return s.itemCount }

// TimeVariable returns the time column name.
func (s *Suite) TimeVariable() string { return s.timeVar }

// InputVariables returns the precondition variables.
func (s *Suite) InputVariables() []string { return slices.Clone(s.inputs) }

// VariableNames returns inputs followed by the other variables.
func (s *Suite) VariableNames() []string { return slices.Clone(s.names) }

// Unit returns the unit of a variable, or "".
func (s *Suite) Unit(name string) string { return s.units[name] }

// Units returns a copy of the unit map.
func (s *Suite) Units() map[string]string { return maps.Clone(s.units) }

// Range returns the observed range of a variable.
func (s *Suite) Range(name string) (Range, bool) {
	r, ok := s.ranges[name]
	return r, ok
}

// Bounds returns the smallest and largest value over all variables.
func (s *Suite) Bounds() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, r := range s.ranges {
		lo, hi, ok = math.Min(lo, r.Min), math.Max(hi, r.Max), true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// TimeSpan returns the longest trace duration.
func (s *Suite) TimeSpan() float64 { return s.timeSpan }
