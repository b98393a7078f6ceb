// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidFile indicates a trace file that could not be parsed.
var ErrInvalidFile = errors.New("invalid trace file")

// unitSeparator splits "name|unit" header cells.
const unitSeparator = "|"

// LoadOptions configures LoadDir.
type LoadOptions struct {
	// InputVariables are the variables allowed in preconditions.
	InputVariables []string

	// TimeVariable names the time column. Default: "Time".
	TimeVariable string

	// Pattern selects files inside the directory. Default: "*.csv".
	Pattern string

	// Prev0 is the value prev yields at index 0.
	Prev0 float64

	// Logger receives per-file diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// LoadDir reads every matching file in dir as one trace of a suite.
//
// Description:
//
//	Files are read in name order. The header row names the variables,
//	optionally annotated with a unit as "name|unit". All files must share
//	the same variables and units.
//
// Inputs:
//
//	dir - Directory holding one CSV file per trace.
//	opts - Input variables, time column and prev default.
//
// Outputs:
//
//	*Suite - The loaded suite.
//	error - ErrEmptySuite if no file matched, ErrSchemaMismatch,
//	        ErrUnknownVariable or ErrInvalidFile otherwise.
func LoadDir(dir string, opts LoadOptions) (*Suite, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*.csv"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "trace_loader"), slog.String("dir", dir))

	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrEmptySuite, pattern, dir)
	}

	var (
		traces []*Trace
		units  map[string]string
	)
	for _, p := range paths {
		t, u, err := LoadFile(p, opts.TimeVariable)
		if err != nil {
			return nil, err
		}
		if units == nil {
			units = u
		} else if !maps.Equal(units, u) {
			return nil, fmt.Errorf("%w: units of %s differ", ErrSchemaMismatch, t.Name())
		}
		logger.Debug("Loaded trace", slog.String("trace", t.Name()), slog.Int("samples", t.Len()))
		traces = append(traces, t)
	}

	suite, err := NewSuite(traces, opts.InputVariables, WithUnits(units), WithPrev0(opts.Prev0))
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded trace suite",
		slog.Int("traces", suite.Len()),
		slog.Int("samples", suite.ItemCount()),
		slog.Int("variables", len(suite.VariableNames())))
	return suite, nil
}

// LoadFile reads one CSV trace and returns it with its header units.
func LoadFile(path, timeVar string) (*Trace, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path), timeVar)
}

// Read parses CSV trace data from r.
func Read(r io.Reader, name, timeVar string) (*Trace, map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: read header: %v", ErrInvalidFile, name, err)
	}
	names := make([]string, len(header))
	units := make(map[string]string)
	seen := make(map[string]bool, len(header))
	for i, cell := range header {
		n, unit, _ := strings.Cut(strings.TrimSpace(cell), unitSeparator)
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			return nil, nil, fmt.Errorf("%w: %s: bad or duplicate column %q", ErrInvalidFile, name, cell)
		}
		seen[n] = true
		names[i] = n
		if unit = strings.TrimSpace(unit); unit != "" {
			units[n] = unit
		}
	}

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: line %d: %v", ErrInvalidFile, name, line, err)
		}
		s := make(Sample, len(names))
		for i, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s: line %d column %s: %v", ErrInvalidFile, name, line, names[i], err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("%w: %s: line %d column %s: non-finite value %q", ErrInvalidFile, name, line, names[i], cell)
			}
			s[names[i]] = v
		}
		samples = append(samples, s)
	}

	t, err := New(name, timeVar, samples)
	if err != nil {
		return nil, nil, err
	}
	return t, units, nil
}
