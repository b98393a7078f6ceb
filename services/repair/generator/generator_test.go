// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSet(t *testing.T) *grammar.PrimitiveSet {
	t.Helper()
	p, err := grammar.NewPrimitiveSet("post", []string{"x", "y"}, -10, 10, 20)
	require.NoError(t, err)
	return p
}

func TestGenerate_DepthBoundsAndTypes(t *testing.T) {
	pset := testSet(t)

	bounds := [][2]int{{0, 0}, {1, 2}, {2, 3}, {3, 5}, {2, 2}}
	for _, b := range bounds {
		for _, shape := range []Shape{ShapeFull, ShapeGrow} {
			for _, typ := range []grammar.Type{grammar.TypeBool, grammar.TypeReal} {
				name := fmt.Sprintf("%s/%s/%d-%d", shape, typ, b[0], b[1])
				t.Run(name, func(t *testing.T) {
					g := New(rand.New(rand.NewPCG(7, uint64(b[0]*10+b[1]))))
					for i := 0; i < 300; i++ {
						tree, err := g.GenerateShape(pset, b[0], b[1], typ, shape)
						require.NoError(t, err)
						require.NoError(t, tree.Check(typ), tree.String())
						h := tree.Height()
						assert.GreaterOrEqual(t, h, b[0], tree.String())
						assert.LessOrEqual(t, h, b[1], tree.String())
					}
				})
			}
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	pset := testSet(t)
	a := New(rand.New(rand.NewPCG(42, 1)))
	b := New(rand.New(rand.NewPCG(42, 1)))
	for i := 0; i < 50; i++ {
		ta, err := a.Generate(pset, 2, 3, grammar.TypeBool)
		require.NoError(t, err)
		tb, err := b.Generate(pset, 2, 3, grammar.TypeBool)
		require.NoError(t, err)
		assert.True(t, ta.Equal(tb))
	}
}

func TestGenerate_ShallowBoolAvoidsBoolArgs(t *testing.T) {
	pset := testSet(t)
	g := New(rand.New(rand.NewPCG(3, 3)))
	for i := 0; i < 200; i++ {
		tree, err := g.GenerateShape(pset, 2, 2, grammar.TypeBool, ShapeFull)
		require.NoError(t, err)
		for _, n := range tree {
			if n.Kind == grammar.KindOperator {
				assert.False(t, n.Op.Spec().HasBoolArg(), tree.String())
			}
		}
	}
}

func TestGenerate_InvalidBounds(t *testing.T) {
	g := New(rand.New(rand.NewPCG(1, 1)))
	_, err := g.Generate(testSet(t), 3, 1, grammar.TypeBool)
	assert.True(t, errors.Is(err, ErrGeneration))
}

func TestGenerationError(t *testing.T) {
	err := &GenerationError{Grammar: "pre", Type: grammar.TypeReal, Depth: 2}
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Contains(t, err.Error(), "Real")
}
