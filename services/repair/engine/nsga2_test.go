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
	"math"
	"math/rand/v2"
	"testing"

	"github.com/AleutianAI/reqrepair/services/repair/generator"
	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fit(vals ...float64) *Candidate {
	return &Candidate{Fitness: vals}
}

// -----------------------------------------------------------------------------
// Dominance Tests
// -----------------------------------------------------------------------------

func TestDominates(t *testing.T) {
	assert.True(t, dominates([]float64{0, 1}, []float64{1, 1}))
	assert.True(t, dominates([]float64{0, 0}, []float64{1, 1}))
	assert.False(t, dominates([]float64{1, 1}, []float64{1, 1}), "equal vectors")
	assert.False(t, dominates([]float64{0, 2}, []float64{1, 1}), "trade-off")
	assert.False(t, dominates([]float64{1, 1}, []float64{0, 1}))
}

func TestLexLess(t *testing.T) {
	assert.True(t, lexLess([]float64{0, 5}, []float64{1, 0}))
	assert.True(t, lexLess([]float64{1, 0}, []float64{1, 1}))
	assert.False(t, lexLess([]float64{1, 1}, []float64{1, 1}))
}

// -----------------------------------------------------------------------------
// Sorting and Selection Tests
// -----------------------------------------------------------------------------

func TestSortNondominated(t *testing.T) {
	a, b, c := fit(0, 3), fit(3, 0), fit(1, 1)
	d, e := fit(2, 2), fit(4, 4)
	invalid := &Candidate{}

	fronts := sortNondominated([]*Candidate{e, d, c, b, a, invalid})
	require.Len(t, fronts, 3)
	assert.ElementsMatch(t, []*Candidate{a, b, c}, fronts[0])
	assert.Equal(t, []*Candidate{d}, fronts[1])
	assert.Equal(t, []*Candidate{e}, fronts[2])
	assert.Equal(t, 0, a.rank)
	assert.Equal(t, 2, e.rank)
}

func TestAssignCrowding(t *testing.T) {
	a, b, c, d := fit(0, 4), fit(1, 2), fit(2, 1), fit(4, 0)
	assignCrowding([]*Candidate{c, a, d, b})

	assert.True(t, math.IsInf(a.crowding, 1))
	assert.True(t, math.IsInf(d.crowding, 1))
	// b: (2-0)/4 + (4-1)/4, c: (4-1)/4 + (2-0)/4
	assert.InDelta(t, 1.25, b.crowding, 1e-12)
	assert.InDelta(t, 1.25, c.crowding, 1e-12)
}

func TestSelectNSGA2(t *testing.T) {
	front := []*Candidate{fit(0, 4), fit(1, 3), fit(1.1, 2.9), fit(4, 0)}
	worse := fit(5, 5)
	pop := append([]*Candidate{worse}, front...)

	got := selectNSGA2(pop, 3)
	require.Len(t, got, 3)
	assert.NotContains(t, got, worse)
	assert.Contains(t, got, front[0], "boundary kept")
	assert.Contains(t, got, front[3], "boundary kept")

	all := selectNSGA2(pop, 10)
	assert.Len(t, all, 5, "never pads beyond the population")
}

// -----------------------------------------------------------------------------
// Archive Tests
// -----------------------------------------------------------------------------

func archived(t *testing.T, post string, vals ...float64) *Candidate {
	t.Helper()
	pset, err := grammar.NewPrimitiveSet("post", []string{"x"}, -10, 10, 10)
	require.NoError(t, err)
	tree, err := grammar.Parse(post, pset, grammar.TypeBool)
	require.NoError(t, err)
	return &Candidate{
		Req:     grammar.Requirement{Pre: grammar.Tree{grammar.BoolNode(true)}, Post: tree},
		Target:  TargetPost,
		Fitness: vals,
	}
}

func TestArchive_Update(t *testing.T) {
	a := NewArchive()
	assert.Equal(t, 2, a.Update([]*Candidate{
		archived(t, "lt(x, 1)", 2, 0),
		archived(t, "lt(x, 2)", 1, 1),
	}))
	assert.Equal(t, 2, a.Len())

	assert.Zero(t, a.Update([]*Candidate{archived(t, "lt(x, 1)", 0, 0)}), "duplicate genome")
	assert.Zero(t, a.Update([]*Candidate{archived(t, "lt(x, 3)", 3, 3)}), "dominated")
	assert.Zero(t, a.Update([]*Candidate{{}}), "invalid")

	assert.Equal(t, 1, a.Update([]*Candidate{archived(t, "lt(x, 4)", 0.5, 0.5)}))
	sols := a.Solutions()
	require.Len(t, sols, 2, "lt(x, 2) evicted")
	assert.Equal(t, "lt(x, 4)", sols[0].Post)
	assert.Equal(t, "lt(x, 1)", sols[1].Post)
	assert.Equal(t, "(x < 4)", sols[0].PostInfix)

	best, ok := a.Best()
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.5}, best.Fitness)
}

func TestArchive_SolutionsAreCopies(t *testing.T) {
	a := NewArchive()
	c := archived(t, "lt(x, 1)", 1, 1)
	a.Update([]*Candidate{c})
	c.Fitness[0] = 99

	sols := a.Solutions()
	sols[0].Post = "changed"
	assert.Equal(t, []float64{1, 1}, a.Solutions()[0].Fitness)
	assert.Equal(t, "lt(x, 1)", a.Solutions()[0].Post)
}

// -----------------------------------------------------------------------------
// Variation Tests
// -----------------------------------------------------------------------------

func TestVariation_TypeSafeAndCapped(t *testing.T) {
	p := problem(t, "gt(x, 3)", "lt(y, 2)")
	rng := rand.New(rand.NewPCG(7, 7))
	gen := generator.New(rng)
	v := &variation{
		rng:     rng,
		gen:     gen,
		psets:   map[grammar.Side]*grammar.PrimitiveSet{grammar.SidePre: p.PreSet, grammar.SidePost: p.PostSet},
		cxProb:  0.9,
		mutProb: 0.9,
		mutMin:  1,
		mutMax:  2,
		maxSize: 12,
	}

	var pool []*Candidate
	for i := 0; i < 10; i++ {
		target := TargetPre
		if i%2 == 1 {
			target = TargetPost
		}
		side := target.Sides()[0]
		pset := p.PreSet
		if side == grammar.SidePost {
			pset = p.PostSet
		}
		tree, err := gen.GenerateShape(pset, 1, 2, grammar.TypeBool, generator.ShapeFull)
		require.NoError(t, err)
		pool = append(pool, &Candidate{
			Req:     p.Original.Clone().WithSide(side, tree),
			Target:  target,
			Fitness: []float64{1, 1},
		})
	}
	before := make([]string, len(pool))
	for i, c := range pool {
		before[i] = c.Req.Key()
	}

	for round := 0; round < 20; round++ {
		kids, err := v.breed(pool, 30, round+1)
		require.NoError(t, err)
		require.Len(t, kids, 30)
		for _, k := range kids {
			require.NoError(t, k.Req.Pre.Check(grammar.TypeBool), k.Req.Key())
			require.NoError(t, k.Req.Post.Check(grammar.TypeBool), k.Req.Key())
			assert.LessOrEqual(t, len(k.Req.Pre), 12)
			assert.LessOrEqual(t, len(k.Req.Post), 12)
			for _, n := range k.Req.Pre {
				if n.Kind == grammar.KindVar || n.Kind == grammar.KindPrevMarker {
					assert.True(t, p.PreSet.HasVariable(n.Name), "pre only uses inputs: %s", k.Req.Pre)
				}
			}
			switch k.Target {
			case TargetPre:
				assert.Equal(t, "lt(y, 2)", k.Req.Post.String(), "post untouched")
			case TargetPost:
				assert.Equal(t, "gt(x, 3)", k.Req.Pre.String(), "pre untouched")
			}
			if k.Valid() {
				assert.Equal(t, []float64{1, 1}, k.Fitness)
			}
		}
	}

	for i, c := range pool {
		assert.Equal(t, before[i], c.Req.Key(), "parents never aliased")
	}
}

func TestVariation_InOrderParents(t *testing.T) {
	p := problem(t, "gt(x, 3)", "lt(y, 2)")
	rng := rand.New(rand.NewPCG(1, 1))
	v := &variation{rng: rng, gen: generator.New(rng), maxSize: 24}

	a := &Candidate{Req: p.Original.Clone(), Target: TargetPre, Fitness: []float64{1}}
	b := &Candidate{Req: p.Original.Clone(), Target: TargetPost, Fitness: []float64{2}}

	kids, err := v.breed([]*Candidate{a, b}, 4, 1)
	require.NoError(t, err)
	targets := []Target{kids[0].Target, kids[1].Target, kids[2].Target, kids[3].Target}
	assert.Equal(t, []Target{TargetPre, TargetPost, TargetPre, TargetPost}, targets)
	assert.True(t, kids[0].Valid(), "no operator applied keeps fitness")
}
