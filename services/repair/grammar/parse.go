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
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a requirement side written in functional notation.
//
// Description:
//
//	Accepts the operator names add, sub, lt, le, gt, ge, eq, and, or, not,
//	implies, prev and dur, variable names in scope of pset, numeric literals
//	and the constants True and False. The argument of prev may be written as
//	x, _x, 'x' or '_x'. Types are checked while parsing.
//
// Inputs:
//
//	text - The expression, e.g. "and(ge(x, 0), lt(prev(x), 10))".
//	pset - Grammar providing variables and operators.
//	want - Expected root type, normally TypeBool.
//
// Outputs:
//
//	Tree - The parsed tree in preorder.
//	error - A *ParseError wrapping ErrParse, ErrUnknownVariable,
//	        ErrUnknownOperator or ErrTypeMismatch.
func Parse(text string, pset *PrimitiveSet, want Type) (Tree, error) {
	p := &parser{input: text, pset: pset}
	if err := p.tokenize(); err != nil {
		return nil, err
	}
	if err := p.expr(want); err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, p.fail(p.tokens[p.pos].offset, fmt.Errorf("%w: unexpected %q", ErrParse, p.tokens[p.pos].text))
	}
	return p.out, nil
}

// ParseRequirement parses both sides against their grammars.
func ParseRequirement(preText, postText string, pre, post *PrimitiveSet) (Requirement, error) {
	p, err := Parse(preText, pre, TypeBool)
	if err != nil {
		return Requirement{}, fmt.Errorf("precondition: %w", err)
	}
	q, err := Parse(postText, post, TypeBool)
	if err != nil {
		return Requirement{}, fmt.Errorf("postcondition: %w", err)
	}
	return Requirement{Pre: p, Post: q}, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokQuoted
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

type parser struct {
	input  string
	pset   *PrimitiveSet
	tokens []token
	pos    int
	out    Tree
}

func (p *parser) fail(offset int, err error) error {
	return &ParseError{Input: p.input, Pos: offset, Err: err}
}

func (p *parser) tokenize() error {
	s := p.input
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			p.tokens = append(p.tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			p.tokens = append(p.tokens, token{tokRParen, ")", i})
			i++
		case c == ',':
			p.tokens = append(p.tokens, token{tokComma, ",", i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], s[i])
			if end < 0 {
				return p.fail(i, fmt.Errorf("%w: unterminated quote", ErrParse))
			}
			p.tokens = append(p.tokens, token{tokQuoted, s[i+1 : i+1+end], i})
			i += end + 2
		case c == '-' || c == '+' || c == '.' || unicode.IsDigit(c):
			j := i + 1
			for j < len(s) && isNumberByte(s[j], s[j-1]) {
				j++
			}
			p.tokens = append(p.tokens, token{tokNumber, s[i:j], i})
			i = j
		case c == '_' || unicode.IsLetter(c):
			j := i + 1
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			p.tokens = append(p.tokens, token{tokIdent, s[i:j], i})
			i = j
		default:
			return p.fail(i, fmt.Errorf("%w: unexpected character %q", ErrParse, c))
		}
	}
	if len(p.tokens) == 0 {
		return p.fail(0, fmt.Errorf("%w: empty expression", ErrParse))
	}
	return nil
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isNumberByte(b, prev byte) bool {
	switch {
	case b >= '0' && b <= '9', b == '.', b == 'e', b == 'E':
		return true
	case b == '-' || b == '+':
		return prev == 'e' || prev == 'E'
	default:
		return false
	}
}

func (p *parser) next() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	t := p.tokens[p.pos]
	p.pos++
	return t, true
}

func (p *parser) peek(kind tokenKind) bool {
	return p.pos < len(p.tokens) && p.tokens[p.pos].kind == kind
}

func (p *parser) expect(kind tokenKind, what string) error {
	t, ok := p.next()
	if !ok {
		return p.fail(len(p.input), fmt.Errorf("%w: expected %s, got end of input", ErrParse, what))
	}
	if t.kind != kind {
		return p.fail(t.offset, fmt.Errorf("%w: expected %s, got %q", ErrParse, what, t.text))
	}
	return nil
}

func (p *parser) mismatch(t token, got, want Type) error {
	return p.fail(t.offset, fmt.Errorf("%w: %q is %s, want %s", ErrTypeMismatch, t.text, got, want))
}

func (p *parser) expr(want Type) error {
	t, ok := p.next()
	if !ok {
		return p.fail(len(p.input), fmt.Errorf("%w: unexpected end of input", ErrParse))
	}

	switch want {
	case TypePrevVar:
		return p.prevMarker(t)
	case TypeDuration:
		if t.kind != tokNumber {
			return p.fail(t.offset, fmt.Errorf("%w: dur bound must be a number, got %q", ErrTypeMismatch, t.text))
		}
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return p.fail(t.offset, fmt.Errorf("%w: bad number %q", ErrParse, t.text))
		}
		p.out = append(p.out, ConstNode(TypeDuration, v))
		return nil
	}

	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return p.fail(t.offset, fmt.Errorf("%w: bad number %q", ErrParse, t.text))
		}
		if want != TypeReal {
			return p.mismatch(t, TypeReal, want)
		}
		p.out = append(p.out, ConstNode(TypeReal, v))
		return nil

	case tokIdent:
		if p.peek(tokLParen) {
			return p.call(t, want)
		}
		if t.text == "True" || t.text == "False" {
			if want != TypeBool {
				return p.mismatch(t, TypeBool, want)
			}
			p.out = append(p.out, BoolNode(t.text == "True"))
			return nil
		}
		if !p.pset.HasVariable(t.text) {
			return p.fail(t.offset, fmt.Errorf("%w: %q", ErrUnknownVariable, t.text))
		}
		if want != TypeReal {
			return p.mismatch(t, TypeReal, want)
		}
		p.out = append(p.out, VarNode(t.text))
		return nil

	default:
		return p.fail(t.offset, fmt.Errorf("%w: unexpected %q", ErrParse, t.text))
	}
}

func (p *parser) call(name token, want Type) error {
	op, ok := LookupOp(name.text)
	if !ok || !p.pset.HasOperator(op) {
		return p.fail(name.offset, fmt.Errorf("%w: %q", ErrUnknownOperator, name.text))
	}
	spec := op.Spec()
	if spec.Ret != want {
		return p.mismatch(name, spec.Ret, want)
	}
	p.out = append(p.out, OperatorNode(op))
	if err := p.expect(tokLParen, "'('"); err != nil {
		return err
	}
	for k, arg := range spec.Args {
		if k > 0 {
			if err := p.expect(tokComma, "','"); err != nil {
				return err
			}
		}
		if err := p.expr(arg); err != nil {
			return err
		}
	}
	return p.expect(tokRParen, "')'")
}

func (p *parser) prevMarker(t token) error {
	if t.kind != tokIdent && t.kind != tokQuoted {
		return p.fail(t.offset, fmt.Errorf("%w: prev expects a variable, got %q", ErrTypeMismatch, t.text))
	}
	name := t.text
	if !p.pset.HasVariable(name) {
		name = strings.TrimPrefix(name, "_")
	}
	if !p.pset.HasVariable(name) {
		return p.fail(t.offset, fmt.Errorf("%w: %q", ErrUnknownVariable, t.text))
	}
	p.out = append(p.out, PrevMarkerNode(name))
	return nil
}
