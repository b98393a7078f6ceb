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
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	inputs []string
	all    []string
	lo, hi float64
	ok     bool
	span   float64
}

func (f fakeSource) InputVariables() []string         { return f.inputs }
func (f fakeSource) VariableNames() []string          { return f.all }
func (f fakeSource) Bounds() (float64, float64, bool) { return f.lo, f.hi, f.ok }
func (f fakeSource) TimeSpan() float64                { return f.span }

func testSets(t *testing.T) (*PrimitiveSet, *PrimitiveSet) {
	t.Helper()
	pre, post, err := Build(fakeSource{
		inputs: []string{"x"},
		all:    []string{"x", "y"},
		lo:     -5, hi: 5, ok: true,
		span: 50,
	}, BuildOptions{})
	require.NoError(t, err)
	return pre, post
}

// -----------------------------------------------------------------------------
// Build Tests
// -----------------------------------------------------------------------------

func TestBuild_TerminalScopes(t *testing.T) {
	pre, post := testSets(t)

	assert.True(t, pre.HasVariable("x"))
	assert.False(t, pre.HasVariable("y"), "pre grammar must exclude non-input variables")
	assert.True(t, post.HasVariable("y"))

	for _, typ := range []Type{TypeReal, TypeBool, TypeDuration, TypePrevVar} {
		assert.NotEmpty(t, pre.Terminals(typ), "pre terminals for %s", typ)
		assert.NotEmpty(t, post.Terminals(typ), "post terminals for %s", typ)
	}
}

func TestBuild_EphemeralWindows(t *testing.T) {
	pre, _, err := Build(fakeSource{
		inputs: []string{"x"}, all: []string{"x"},
		lo: 0, hi: 10, ok: true, span: 7,
	}, BuildOptions{RangeWidening: 0.5})
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(1, 2))
	var realSpec, durSpec TerminalSpec
	for _, s := range pre.Terminals(TypeReal) {
		if s.Ephemeral() {
			realSpec = s
		}
	}
	durSpec = pre.Terminals(TypeDuration)[0]
	require.True(t, realSpec.Ephemeral())
	require.True(t, durSpec.Ephemeral())

	for i := 0; i < 200; i++ {
		v := realSpec.Instantiate(r).Value
		assert.GreaterOrEqual(t, v, -5.0)
		assert.LessOrEqual(t, v, 15.0)

		d := durSpec.Instantiate(r).Value
		assert.GreaterOrEqual(t, d, 0.0)
		assert.LessOrEqual(t, d, 7.0)
		assert.Equal(t, float64(int(d)), d, "durations are integral")
	}
}

func TestBuild_NoInputVariablesDropsPrev(t *testing.T) {
	pre, _, err := Build(fakeSource{all: []string{"y"}}, BuildOptions{})
	require.NoError(t, err)
	assert.False(t, pre.HasOperator(OpPrev))
	assert.True(t, pre.HasOperator(OpDur))
}

// -----------------------------------------------------------------------------
// Parse Tests
// -----------------------------------------------------------------------------

func TestParse_RoundTrip(t *testing.T) {
	_, post := testSets(t)

	tests := []string{
		"True",
		"lt(x, 1)",
		"and(ge(x, 0), le(sub(y, prev(x)), 10.5))",
		"implies(not(eq(x, y)), dur(11, 50, gt(y, -2)))",
		"or(False, lt(add(x, y), 0.001))",
	}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			tree, err := Parse(text, post, TypeBool)
			require.NoError(t, err)
			require.NoError(t, tree.Check(TypeBool))
			assert.Equal(t, text, tree.String())
		})
	}
}

func TestParse_PrevMarkerForms(t *testing.T) {
	_, post := testSets(t)
	for _, text := range []string{"lt(prev(x), 1)", "lt(prev(_x), 1)", "lt(prev('_x'), 1)", "lt(prev(\"x\"), 1)"} {
		tree, err := Parse(text, post, TypeBool)
		require.NoError(t, err, text)
		assert.Equal(t, "lt(prev(x), 1)", tree.String())
	}
}

func TestParse_Errors(t *testing.T) {
	pre, _ := testSets(t)

	tests := []struct {
		name string
		text string
		want error
	}{
		{"unknown variable", "lt(y, 1)", ErrUnknownVariable},
		{"unknown operator", "mul(x, 1)", ErrUnknownOperator},
		{"real at bool root", "add(x, 1)", ErrTypeMismatch},
		{"bool argument to lt", "lt(True, 1)", ErrTypeMismatch},
		{"missing paren", "lt(x, 1", ErrParse},
		{"trailing input", "True True", ErrParse},
		{"empty", "   ", ErrParse},
		{"variable as dur bound", "dur(x, 1, True)", ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, pre, TypeBool)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestParseRequirement_PreScope(t *testing.T) {
	pre, post := testSets(t)

	_, err := ParseRequirement("gt(y, 0)", "True", pre, post)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVariable)

	req, err := ParseRequirement("gt(x, 0)", "lt(y, 1)", pre, post)
	require.NoError(t, err)
	assert.Equal(t, "implies(gt(x, 0), lt(y, 1))", req.Merged().String())
}

// -----------------------------------------------------------------------------
// Tree Tests
// -----------------------------------------------------------------------------

func TestTree_SubtreeAndReplace(t *testing.T) {
	_, post := testSets(t)
	tree, err := Parse("and(lt(x, 1), gt(y, 2))", post, TypeBool)
	require.NoError(t, err)

	// and lt x 1 gt y 2
	assert.Equal(t, 7, tree.SubtreeEnd(0))
	assert.Equal(t, 4, tree.SubtreeEnd(1))
	assert.Equal(t, 3, tree.SubtreeEnd(2))
	assert.Equal(t, "gt(y, 2)", tree.Subtree(4).String())

	replaced := tree.Replace(1, Tree{BoolNode(true)})
	assert.Equal(t, "and(True, gt(y, 2))", replaced.String())
	assert.Equal(t, "and(lt(x, 1), gt(y, 2))", tree.String(), "original untouched")
	assert.NoError(t, replaced.Check(TypeBool))
}

func TestTree_Height(t *testing.T) {
	_, post := testSets(t)
	tests := map[string]int{
		"True":                              0,
		"lt(x, 1)":                          1,
		"and(lt(x, 1), True)":               2,
		"and(lt(add(x, prev(y)), 1), True)": 4,
	}
	for text, want := range tests {
		tree, err := Parse(text, post, TypeBool)
		require.NoError(t, err)
		assert.Equal(t, want, tree.Height(), text)
	}
}

func TestTree_Clone(t *testing.T) {
	_, post := testSets(t)
	tree, err := Parse("lt(x, 1)", post, TypeBool)
	require.NoError(t, err)

	c := tree.Clone()
	c[2] = ConstNode(TypeReal, 99)
	assert.Equal(t, "lt(x, 1)", tree.String())
	assert.Equal(t, "lt(x, 99)", c.String())
}

func TestTree_Check(t *testing.T) {
	bad := Tree{OperatorNode(OpAnd), BoolNode(true)}
	assert.ErrorIs(t, bad.Check(TypeBool), ErrMalformedTree)

	wrong := Tree{OperatorNode(OpLt), BoolNode(true), ConstNode(TypeReal, 1)}
	assert.ErrorIs(t, wrong.Check(TypeBool), ErrTypeMismatch)

	extra := Tree{BoolNode(true), BoolNode(false)}
	assert.ErrorIs(t, extra.Check(TypeBool), ErrMalformedTree)
}

func TestTree_Infix(t *testing.T) {
	_, post := testSets(t)
	tree, err := Parse("implies(not(ge(x, 0)), dur(1, 5, eq(sub(y, prev(x)), 2)))", post, TypeBool)
	require.NoError(t, err)
	assert.Equal(t, "(not (x >= 0) => dur[1, 5](((y - prev(x)) == 2)))", tree.Infix())
}
