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
	"math/rand/v2"

	"github.com/AleutianAI/reqrepair/services/repair/generator"
	"github.com/AleutianAI/reqrepair/services/repair/grammar"
)

// variation applies crossover and mutation under a size cap.
//
// Trees are never modified in place: every operator builds a new tree from
// deep copies, so parents, siblings and the archive never alias offspring.
type variation struct {
	rng      *rand.Rand
	gen      *generator.Generator
	psets    map[grammar.Side]*grammar.PrimitiveSet
	cxProb   float64
	mutProb  float64
	mutMin   int
	mutMax   int
	maxSize  int
	randPick bool
}

// breed produces n offspring from pool.
//
// Description:
//
//	Parents are taken from pool in order, wrapping around, or at random
//	when randPick is set. Each child is a clone of its parent. With
//	probability cxProb it receives a same-typed subtree from a mate that
//	shares its target; with probability mutProb a subtree is regrown.
//	Children left untouched keep their parent's fitness.
func (v *variation) breed(pool []*Candidate, n, generation int) ([]*Candidate, error) {
	if len(pool) == 0 {
		return nil, nil
	}
	byTarget := make(map[Target][]*Candidate)
	for _, c := range pool {
		byTarget[c.Target] = append(byTarget[c.Target], c)
	}

	out := make([]*Candidate, 0, n)
	for i := 0; i < n; i++ {
		var parent *Candidate
		if v.randPick {
			parent = pool[v.rng.IntN(len(pool))]
		} else {
			parent = pool[i%len(pool)]
		}
		child := parent.clone()
		changed := false

		if v.rng.Float64() < v.cxProb {
			mates := byTarget[parent.Target]
			mate := mates[v.rng.IntN(len(mates))]
			if v.crossover(child, mate) {
				changed = true
			}
		}
		if v.rng.Float64() < v.mutProb {
			ok, err := v.mutate(child)
			if err != nil {
				return nil, err
			}
			if ok {
				changed = true
			}
		}
		if changed {
			child.Invalidate()
			child.Generation = generation
		}
		out = append(out, child)
	}
	return out, nil
}

// side picks the side a variation operator acts on.
func (v *variation) side(t Target) grammar.Side {
	sides := t.Sides()
	return sides[v.rng.IntN(len(sides))]
}

// crossover replaces a random subtree of child with a same-typed subtree of
// mate, on one side of child's target. It reports whether child changed.
func (v *variation) crossover(child, mate *Candidate) bool {
	side := v.side(child.Target)
	a, b := child.Req.Side(side), mate.Req.Side(side)
	if len(a) < 2 || len(b) < 2 {
		return false
	}

	// Types present below the root of both trees.
	inB := make(map[grammar.Type][]int)
	for i := 1; i < len(b); i++ {
		inB[b[i].Type] = append(inB[b[i].Type], i)
	}
	var points []int
	for i := 1; i < len(a); i++ {
		if len(inB[a[i].Type]) > 0 {
			points = append(points, i)
		}
	}
	if len(points) == 0 {
		return false
	}

	i := points[v.rng.IntN(len(points))]
	donors := inB[a[i].Type]
	j := donors[v.rng.IntN(len(donors))]

	next := a.Replace(i, b.Subtree(j).Clone())
	if len(next) > v.maxSize || next.Equal(a) {
		return false
	}
	child.Req = child.Req.WithSide(side, next)
	return true
}

// mutate regrows a random subtree of child with one of the same type.
// Oversized results are reverted.
func (v *variation) mutate(child *Candidate) (bool, error) {
	side := v.side(child.Target)
	a := child.Req.Side(side)
	if len(a) == 0 {
		return false, nil
	}
	i := v.rng.IntN(len(a))
	sub, err := v.gen.Generate(v.psets[side], v.mutMin, v.mutMax, a[i].Type)
	if err != nil {
		return false, err
	}
	next := a.Replace(i, sub)
	if len(next) > v.maxSize || next.Equal(a) {
		return false, nil
	}
	child.Req = child.Req.WithSide(side, next)
	return true, nil
}
