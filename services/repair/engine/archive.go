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
	"slices"

	"github.com/AleutianAI/reqrepair/services/repair/desirability"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
)

// Solution is an archived repair, kept as text to bound memory.
type Solution struct {
	Pre          string              `json:"pre"`
	Post         string              `json:"post"`
	PreInfix     string              `json:"pre_infix"`
	PostInfix    string              `json:"post_infix"`
	Target       string              `json:"target"`
	Fitness      []float64           `json:"fitness"`
	Correctness  float64             `json:"correctness"`
	Report       robustness.Report   `json:"report"`
	Desirability desirability.Values `json:"desirability"`
	Generation   int                 `json:"generation"`
}

// Key returns the genome identity of s.
func (s Solution) Key() string {
	return s.Pre + " => " + s.Post
}

// solutionOf snapshots an evaluated candidate.
func solutionOf(c *Candidate) Solution {
	return Solution{
		Pre:          c.Req.Pre.String(),
		Post:         c.Req.Post.String(),
		PreInfix:     c.Req.Pre.Infix(),
		PostInfix:    c.Req.Post.Infix(),
		Target:       c.Target.String(),
		Fitness:      slices.Clone(c.Fitness),
		Correctness:  c.Report.Correctness(),
		Report:       c.Report,
		Desirability: c.Values,
		Generation:   c.Generation,
	}
}

// Archive is the set of non-dominated solutions seen during a run.
//
// Entries are kept sorted by fitness, lexicographically ascending, and are
// unique by genome key.
//
// # Thread Safety
//
// Not safe for concurrent use. The engine owns it for the run.
type Archive struct {
	entries []Solution
	keys    map[string]struct{}
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	return &Archive{keys: make(map[string]struct{})}
}

// Len returns the entry count.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Update inserts every candidate not dominated by the archive and evicts
// entries the newcomers dominate.
//
// Outputs:
//
//	int - Number of entries inserted.
func (a *Archive) Update(cands []*Candidate) int {
	inserted := 0
	for _, c := range cands {
		if !c.Valid() {
			continue
		}
		if a.insert(solutionOf(c)) {
			inserted++
		}
	}
	return inserted
}

func (a *Archive) insert(s Solution) bool {
	key := s.Key()
	if _, dup := a.keys[key]; dup {
		return false
	}
	for _, e := range a.entries {
		if dominates(e.Fitness, s.Fitness) {
			return false
		}
	}

	kept := a.entries[:0]
	for _, e := range a.entries {
		if dominates(s.Fitness, e.Fitness) {
			delete(a.keys, e.Key())
			continue
		}
		kept = append(kept, e)
	}
	a.entries = kept

	at, _ := slices.BinarySearchFunc(a.entries, s, func(e, t Solution) int {
		switch {
		case lexLess(e.Fitness, t.Fitness):
			return -1
		case lexLess(t.Fitness, e.Fitness):
			return 1
		}
		return 0
	})
	// Equal fitness keeps insertion order.
	for at < len(a.entries) && !lexLess(s.Fitness, a.entries[at].Fitness) && !lexLess(a.entries[at].Fitness, s.Fitness) {
		at++
	}
	a.entries = slices.Insert(a.entries, at, s)
	a.keys[key] = struct{}{}
	return true
}

// Solutions returns a copy of the entries, best first.
func (a *Archive) Solutions() []Solution {
	return slices.Clone(a.entries)
}

// Best returns the top entry.
func (a *Archive) Best() (Solution, bool) {
	if len(a.entries) == 0 {
		return Solution{}, false
	}
	return a.entries[0], true
}
