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
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTrace(t *testing.T, name string, samples ...Sample) *Trace {
	t.Helper()
	tr, err := New(name, "", samples)
	require.NoError(t, err)
	return tr
}

// -----------------------------------------------------------------------------
// Trace Tests
// -----------------------------------------------------------------------------

func TestNew(t *testing.T) {
	tr := mustTrace(t, "a",
		Sample{"Time": 0, "x": 1, "y": -1},
		Sample{"Time": 1, "x": 2, "y": -2},
	)
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, 1.0, tr.Time(1))
	v, ok := tr.Value(0, "y")
	assert.True(t, ok)
	assert.Equal(t, -1.0, v)
	_, ok = tr.Value(0, "z")
	assert.False(t, ok)
	assert.Equal(t, Sample{"Time": 1, "x": 2, "y": -2}, tr.Sample(1))
	assert.Equal(t, 1.0, tr.Duration())
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    error
	}{
		{"empty", nil, ErrEmptyTrace},
		{"no time", []Sample{{"x": 1}}, ErrMissingTime},
		{"ragged", []Sample{{"Time": 0, "x": 1}, {"Time": 1}}, ErrSchemaMismatch},
		{"renamed", []Sample{{"Time": 0, "x": 1}, {"Time": 1, "z": 1}}, ErrMissingVariable},
		{"time goes back", []Sample{{"Time": 1, "x": 1}, {"Time": 0, "x": 1}}, ErrNonMonotonicTime},
		{"time repeats", []Sample{{"Time": 1, "x": 1}, {"Time": 1, "x": 1}}, ErrNonMonotonicTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("t", "", tt.samples)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// -----------------------------------------------------------------------------
// Suite Tests
// -----------------------------------------------------------------------------

func TestNewSuite_VariableOrderAndRanges(t *testing.T) {
	a := mustTrace(t, "a",
		Sample{"Time": 0, "u": 1, "b": 5, "a": 0},
		Sample{"Time": 2, "u": 3, "b": 6, "a": 1},
	)
	b := mustTrace(t, "b",
		Sample{"Time": 10, "u": -4, "b": 5, "a": 0},
		Sample{"Time": 15, "u": 0, "b": 9, "a": 2},
	)
	s, err := NewSuite([]*Trace{a, b}, []string{"u"}, WithPrev0(3), WithUnits(map[string]string{"u": "m"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"u"}, s.InputVariables())
	assert.Equal(t, []string{"u", "a", "b"}, s.VariableNames())
	assert.Equal(t, 3.0, s.Prev0)
	assert.Equal(t, "m", s.Unit("u"))
	assert.Equal(t, 4, s.ItemCount())
	assert.Equal(t, 5.0, s.TimeSpan())

	r, ok := s.Range("u")
	require.True(t, ok)
	assert.Equal(t, Range{Min: -4, Max: 3}, r)

	lo, hi, ok := s.Bounds()
	require.True(t, ok)
	assert.Equal(t, -4.0, lo)
	assert.Equal(t, 9.0, hi)
}

func TestNewSuite_Errors(t *testing.T) {
	a := mustTrace(t, "a", Sample{"Time": 0, "x": 1})
	b := mustTrace(t, "b", Sample{"Time": 0, "y": 1})

	_, err := NewSuite(nil, nil)
	assert.ErrorIs(t, err, ErrEmptySuite)

	_, err = NewSuite([]*Trace{a, b}, nil)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = NewSuite([]*Trace{a}, []string{"q"})
	assert.ErrorIs(t, err, ErrUnknownVariable)

	_, err = NewSuite([]*Trace{a}, []string{"Time"})
	assert.ErrorIs(t, err, ErrUnknownVariable)
}

// -----------------------------------------------------------------------------
// Loader Tests
// -----------------------------------------------------------------------------

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRead_UnitsAndValues(t *testing.T) {
	data := "Time|s, speed|m/s, gear\n0, 1.5, 1\n0.5, 2.5, 2\n"
	tr, units, err := Read(strings.NewReader(data), "run", "")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Time": "s", "speed": "m/s"}, units)
	assert.Equal(t, []string{"Time", "gear", "speed"}, tr.Variables())
	v, _ := tr.Value(1, "speed")
	assert.Equal(t, 2.5, v)
}

func TestRead_Errors(t *testing.T) {
	tests := map[string]string{
		"bad number":  "Time,x\n0,abc\n",
		"dup column":  "Time,x,x\n0,1,2\n",
		"short row":   "Time,x\n0\n",
		"empty input": "",
		"nan":         "Time,x\n0,0\n1,NaN\n2,5\n",
		"inf":         "Time,x\n0,Inf\n",
		"minus inf":   "Time,x\n0,-inf\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Read(strings.NewReader(data), "f", "")
			assert.ErrorIs(t, err, ErrInvalidFile)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "Time,x,y|m\n0,1,2\n1,2,3\n")
	writeFile(t, dir, "a.csv", "Time,x,y|m\n0,0,0\n1,5,1\n2,6,1\n")
	writeFile(t, dir, "notes.txt", "ignored")

	s, err := LoadDir(dir, LoadOptions{InputVariables: []string{"x"}, Prev0: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "a.csv", s.Trace(0).Name())
	assert.Equal(t, 5, s.ItemCount())
	assert.Equal(t, "m", s.Unit("y"))
	assert.Equal(t, 1.0, s.Prev0)
}

func TestLoadDir_Errors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		_, err := LoadDir(t.TempDir(), LoadOptions{})
		assert.ErrorIs(t, err, ErrEmptySuite)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.csv", "Time,x\n0,1\n")
		writeFile(t, dir, "b.csv", "Time,z\n0,1\n")
		_, err := LoadDir(dir, LoadOptions{})
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("unit mismatch", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.csv", "Time,x|m\n0,1\n")
		writeFile(t, dir, "b.csv", "Time,x|s\n0,1\n")
		_, err := LoadDir(dir, LoadOptions{})
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("unknown input", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.csv", "Time,x\n0,1\n")
		_, err := LoadDir(dir, LoadOptions{InputVariables: []string{"nope"}})
		assert.ErrorIs(t, err, ErrUnknownVariable)
	})
}

// -----------------------------------------------------------------------------
// Watcher Tests
// -----------------------------------------------------------------------------

func TestSuiteWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "Time,x\n0,1\n")

	var (
		mu    sync.Mutex
		sizes []int
	)
	w, err := NewSuiteWatcher(dir, func(s *Suite, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			sizes = append(sizes, s.Len())
		}
	}, &WatcherOptions{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	writeFile(t, dir, "b.csv", "Time,x\n0,2\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) >= 2 && sizes[len(sizes)-1] == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
