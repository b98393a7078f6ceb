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
	"cmp"
	"math"
	"slices"
)

// -----------------------------------------------------------------------------
// Non-dominated Sorting
// -----------------------------------------------------------------------------

// sortNondominated partitions pop into Pareto fronts, best first, and sets
// each candidate's rank. Invalid candidates are skipped.
func sortNondominated(pop []*Candidate) [][]*Candidate {
	valid := make([]*Candidate, 0, len(pop))
	for _, c := range pop {
		if c.Valid() {
			valid = append(valid, c)
		}
	}
	n := len(valid)
	if n == 0 {
		return nil
	}

	dominatedBy := make([]int, n)
	dominating := make([][]int, n)
	var current []int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case dominates(valid[i].Fitness, valid[j].Fitness):
				dominating[i] = append(dominating[i], j)
				dominatedBy[j]++
			case dominates(valid[j].Fitness, valid[i].Fitness):
				dominating[j] = append(dominating[j], i)
				dominatedBy[i]++
			}
		}
	}
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}

	var fronts [][]*Candidate
	for rank := 0; len(current) > 0; rank++ {
		front := make([]*Candidate, len(current))
		var next []int
		for k, i := range current {
			valid[i].rank = rank
			front[k] = valid[i]
			for _, j := range dominating[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		slices.Sort(next)
		fronts = append(fronts, front)
		current = next
	}
	return fronts
}

// assignCrowding sets the crowding distance of every candidate in front.
// Boundary candidates get +Inf.
func assignCrowding(front []*Candidate) {
	if len(front) == 0 {
		return
	}
	for _, c := range front {
		c.crowding = 0
	}
	if len(front) <= 2 {
		for _, c := range front {
			c.crowding = math.Inf(1)
		}
		return
	}

	order := slices.Clone(front)
	for m := range front[0].Fitness {
		slices.SortStableFunc(order, func(a, b *Candidate) int {
			return cmp.Compare(a.Fitness[m], b.Fitness[m])
		})
		lo, hi := order[0].Fitness[m], order[len(order)-1].Fitness[m]
		order[0].crowding = math.Inf(1)
		order[len(order)-1].crowding = math.Inf(1)
		span := hi - lo
		if span == 0 {
			continue
		}
		for k := 1; k < len(order)-1; k++ {
			order[k].crowding += (order[k+1].Fitness[m] - order[k-1].Fitness[m]) / span
		}
	}
}

// -----------------------------------------------------------------------------
// Selection
// -----------------------------------------------------------------------------

// selectNSGA2 keeps k candidates by front, breaking ties in the last front
// by descending crowding distance.
//
// Description:
//
//	Whole fronts are taken while they fit. The front that overflows is
//	sorted by crowding distance and truncated. Fewer than k candidates are
//	returned only when pop holds fewer than k valid ones.
//
// Inputs:
//
//	pop - Evaluated candidates.
//	k - Number of survivors.
//
// Outputs:
//
//	[]*Candidate - Survivors in front order.
func selectNSGA2(pop []*Candidate, k int) []*Candidate {
	fronts := sortNondominated(pop)
	out := make([]*Candidate, 0, k)
	for _, front := range fronts {
		assignCrowding(front)
		if len(out)+len(front) <= k {
			out = append(out, front...)
			continue
		}
		rest := slices.Clone(front)
		slices.SortStableFunc(rest, func(a, b *Candidate) int {
			return cmp.Compare(b.crowding, a.crowding)
		})
		out = append(out, rest[:k-len(out)]...)
		break
	}
	return out
}

// firstFront returns the non-dominated candidates of pop.
func firstFront(pop []*Candidate) []*Candidate {
	fronts := sortNondominated(pop)
	if len(fronts) == 0 {
		return nil
	}
	return fronts[0]
}
