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
	"strings"
)

// Tree is an expression in preorder. The zero value is an empty tree.
type Tree []Node

// Clone returns a deep copy. Nodes are values so a slice copy suffices.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	copy(out, t)
	return out
}

// Type returns the root type. An empty tree reports TypeBool.
func (t Tree) Type() Type {
	if len(t) == 0 {
		return TypeBool
	}
	return t[0].Type
}

// SubtreeEnd returns the exclusive end index of the subtree rooted at i.
func (t Tree) SubtreeEnd(i int) int {
	pending := t[i].Arity()
	end := i + 1
	for pending > 0 && end < len(t) {
		pending += t[end].Arity() - 1
		end++
	}
	return end
}

// Subtree returns a copy of the subtree rooted at i.
func (t Tree) Subtree(i int) Tree {
	return t[i:t.SubtreeEnd(i)].Clone()
}

// Replace returns a new tree with the subtree at i replaced by sub.
func (t Tree) Replace(i int, sub Tree) Tree {
	end := t.SubtreeEnd(i)
	out := make(Tree, 0, len(t)-(end-i)+len(sub))
	out = append(out, t[:i]...)
	out = append(out, sub...)
	out = append(out, t[end:]...)
	return out
}

// Height returns the longest root-to-leaf path, counted in edges.
func (t Tree) Height() int {
	stack := make([]int, 0, len(t))
	height := 0
	for _, n := range t {
		depth := 0
		if len(stack) > 0 {
			depth = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		if depth > height {
			height = depth
		}
		for k := 0; k < n.Arity(); k++ {
			stack = append(stack, depth+1)
		}
	}
	return height
}

// Equal reports whether two trees have identical nodes.
func (t Tree) Equal(o Tree) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// Check verifies that the node sequence resolves into exactly one tree whose
// argument types match each operator's signature and whose root has type want.
func (t Tree) Check(want Type) error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedTree)
	}
	if t[0].Type != want {
		return fmt.Errorf("%w: root is %s, want %s", ErrTypeMismatch, t[0].Type, want)
	}
	expect := []Type{want}
	for i, n := range t {
		if len(expect) == 0 {
			return fmt.Errorf("%w: trailing nodes at %d", ErrMalformedTree, i)
		}
		top := expect[len(expect)-1]
		expect = expect[:len(expect)-1]
		if n.Type != top {
			return fmt.Errorf("%w: node %d (%s) is %s, want %s", ErrTypeMismatch, i, n.Label(), n.Type, top)
		}
		if n.Kind == KindOperator {
			args := n.Op.Spec().Args
			for k := len(args) - 1; k >= 0; k-- {
				expect = append(expect, args[k])
			}
		}
	}
	if len(expect) != 0 {
		return fmt.Errorf("%w: %d missing arguments", ErrMalformedTree, len(expect))
	}
	return nil
}

// IndicesOfType returns the positions of nodes whose type is typ.
func (t Tree) IndicesOfType(typ Type) []int {
	var out []int
	for i, n := range t {
		if n.Type == typ {
			out = append(out, i)
		}
	}
	return out
}

// String renders the tree in functional prefix notation.
func (t Tree) String() string {
	if len(t) == 0 {
		return ""
	}
	var b strings.Builder
	t.writeFunctional(&b, 0)
	return b.String()
}

func (t Tree) writeFunctional(b *strings.Builder, i int) int {
	if i >= len(t) {
		b.WriteByte('?')
		return i
	}
	n := t[i]
	b.WriteString(n.Label())
	if n.Arity() == 0 {
		return i + 1
	}
	b.WriteByte('(')
	next := i + 1
	for k := 0; k < n.Arity(); k++ {
		if k > 0 {
			b.WriteString(", ")
		}
		next = t.writeFunctional(b, next)
	}
	b.WriteByte(')')
	return next
}

// Infix renders the tree in a human-readable infix form.
func (t Tree) Infix() string {
	if len(t) == 0 {
		return ""
	}
	s, _ := t.infix(0)
	return s
}

func (t Tree) infix(i int) (string, int) {
	if i >= len(t) {
		return "?", i
	}
	n := t[i]
	if n.Kind != KindOperator {
		return n.Label(), i + 1
	}
	spec := n.Op.Spec()
	args := make([]string, spec.Arity())
	next := i + 1
	for k := range args {
		args[k], next = t.infix(next)
	}
	switch n.Op {
	case OpNot:
		return "not " + args[0], next
	case OpPrev:
		return "prev(" + args[0] + ")", next
	case OpDur:
		return "dur[" + args[0] + ", " + args[1] + "](" + args[2] + ")", next
	default:
		return "(" + args[0] + " " + spec.Symbol + " " + args[1] + ")", next
	}
}

// -----------------------------------------------------------------------------
// Requirement
// -----------------------------------------------------------------------------

// Requirement is a precondition and postcondition pair.
type Requirement struct {
	Pre  Tree
	Post Tree
}

// Clone deep-copies both trees.
func (r Requirement) Clone() Requirement {
	return Requirement{Pre: r.Pre.Clone(), Post: r.Post.Clone()}
}

// Merged returns implies(pre, post) as a fresh tree.
func (r Requirement) Merged() Tree {
	out := make(Tree, 0, 1+len(r.Pre)+len(r.Post))
	out = append(out, OperatorNode(OpImplies))
	out = append(out, r.Pre...)
	out = append(out, r.Post...)
	return out
}

// Key returns the genome identity used for deduplication.
func (r Requirement) Key() string {
	return r.Pre.String() + " => " + r.Post.String()
}

// Side returns the tree for the given side.
func (r Requirement) Side(s Side) Tree {
	if s == SidePre {
		return r.Pre
	}
	return r.Post
}

// WithSide returns a copy of r with one side replaced.
func (r Requirement) WithSide(s Side, t Tree) Requirement {
	if s == SidePre {
		return Requirement{Pre: t, Post: r.Post}
	}
	return Requirement{Pre: r.Pre, Post: t}
}

// Side selects the precondition or postcondition.
type Side int

const (
	SidePre Side = iota
	SidePost
)

// String returns "pre" or "post".
func (s Side) String() string {
	if s == SidePre {
		return "pre"
	}
	return "post"
}
