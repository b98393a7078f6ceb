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
	"fmt"
	"strconv"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrParse indicates malformed requirement text.
	ErrParse = errors.New("parse error")

	// ErrUnknownVariable indicates a variable that is not in the grammar.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrUnknownOperator indicates an operator name the grammar does not define.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrTypeMismatch indicates an expression of the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrMalformedTree indicates a node sequence that does not resolve into
	// exactly one tree.
	ErrMalformedTree = errors.New("malformed tree")

	// ErrMissingTerminal indicates a grammar without a terminal for a type.
	ErrMissingTerminal = errors.New("grammar has no terminal for type")
)

// ParseError describes where requirement text failed to parse.
type ParseError struct {
	Input string
	Pos   int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at offset %d: %v", e.Input, e.Pos, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Type is the static type of an expression.
type Type int

const (
	// TypeReal is a real-valued expression.
	TypeReal Type = iota

	// TypeBool is a condition whose value is a robustness degree.
	TypeBool

	// TypeDuration is a time bound accepted only by dur.
	TypeDuration

	// TypePrevVar is a variable marker accepted only by prev.
	TypePrevVar
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeReal:
		return "Real"
	case TypeBool:
		return "Bool"
	case TypeDuration:
		return "Duration"
	case TypePrevVar:
		return "PrevVar"
	default:
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Kind tags what a Node represents.
type Kind int

const (
	// KindOperator is an operator applied to its following subtrees.
	KindOperator Kind = iota

	// KindConst is a fixed constant from the grammar.
	KindConst

	// KindVar is a reference to a trace variable at the current sample.
	KindVar

	// KindEphemeral is a randomly drawn constant, fixed once generated.
	KindEphemeral

	// KindPrevMarker names the variable read by an enclosing prev.
	KindPrevMarker
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOperator:
		return "operator"
	case KindConst:
		return "const"
	case KindVar:
		return "var"
	case KindEphemeral:
		return "ephemeral"
	case KindPrevMarker:
		return "prev_marker"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Op identifies an operator.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpAnd
	OpOr
	OpNot
	OpImplies
	OpPrev
	OpDur
)

// OpSpec is the signature of an operator.
type OpSpec struct {
	// Op is the operator identifier.
	Op Op

	// Name is the functional-notation name, e.g. "lt".
	Name string

	// Symbol is the infix rendering, e.g. "<".
	Symbol string

	// Args are the argument types in order.
	Args []Type

	// Ret is the return type.
	Ret Type
}

// Arity returns the number of arguments.
func (s OpSpec) Arity() int {
	return len(s.Args)
}

// HasBoolArg reports whether any argument is Bool-typed.
func (s OpSpec) HasBoolArg() bool {
	for _, a := range s.Args {
		if a == TypeBool {
			return true
		}
	}
	return false
}

var (
	rr = []Type{TypeReal, TypeReal}
	bb = []Type{TypeBool, TypeBool}
)

// operatorTable holds every operator, indexed by Op.
var operatorTable = []OpSpec{
	OpAdd:     {Op: OpAdd, Name: "add", Symbol: "+", Args: rr, Ret: TypeReal},
	OpSub:     {Op: OpSub, Name: "sub", Symbol: "-", Args: rr, Ret: TypeReal},
	OpLt:      {Op: OpLt, Name: "lt", Symbol: "<", Args: rr, Ret: TypeBool},
	OpLe:      {Op: OpLe, Name: "le", Symbol: "<=", Args: rr, Ret: TypeBool},
	OpGt:      {Op: OpGt, Name: "gt", Symbol: ">", Args: rr, Ret: TypeBool},
	OpGe:      {Op: OpGe, Name: "ge", Symbol: ">=", Args: rr, Ret: TypeBool},
	OpEq:      {Op: OpEq, Name: "eq", Symbol: "==", Args: rr, Ret: TypeBool},
	OpAnd:     {Op: OpAnd, Name: "and", Symbol: "and", Args: bb, Ret: TypeBool},
	OpOr:      {Op: OpOr, Name: "or", Symbol: "or", Args: bb, Ret: TypeBool},
	OpNot:     {Op: OpNot, Name: "not", Symbol: "not", Args: []Type{TypeBool}, Ret: TypeBool},
	OpImplies: {Op: OpImplies, Name: "implies", Symbol: "=>", Args: bb, Ret: TypeBool},
	OpPrev:    {Op: OpPrev, Name: "prev", Symbol: "prev", Args: []Type{TypePrevVar}, Ret: TypeReal},
	OpDur:     {Op: OpDur, Name: "dur", Symbol: "dur", Args: []Type{TypeDuration, TypeDuration, TypeBool}, Ret: TypeBool},
}

// Operators returns the signatures of all operators.
func Operators() []OpSpec {
	out := make([]OpSpec, len(operatorTable))
	copy(out, operatorTable)
	return out
}

// Spec returns the signature of op.
func (op Op) Spec() OpSpec {
	return operatorTable[op]
}

// String returns the functional name of op.
func (op Op) String() string {
	if op < 0 || int(op) >= len(operatorTable) {
		return "op(" + strconv.Itoa(int(op)) + ")"
	}
	return operatorTable[op].Name
}

// LookupOp finds an operator by its functional name.
func LookupOp(name string) (Op, bool) {
	for _, s := range operatorTable {
		if s.Name == name {
			return s.Op, true
		}
	}
	return 0, false
}

// -----------------------------------------------------------------------------
// Node
// -----------------------------------------------------------------------------

// Node is one element of a preorder tree.
//
// Operator nodes use Op; constants and ephemerals use Value; variables and
// prev markers use Name. Type is always the node's return type.
type Node struct {
	Kind  Kind
	Type  Type
	Op    Op
	Name  string
	Value float64
}

// OperatorNode returns the node for op.
func OperatorNode(op Op) Node {
	return Node{Kind: KindOperator, Type: op.Spec().Ret, Op: op}
}

// ConstNode returns a grammar constant of type t.
func ConstNode(t Type, v float64) Node {
	return Node{Kind: KindConst, Type: t, Value: v}
}

// BoolNode returns the True or False constant.
func BoolNode(b bool) Node {
	if b {
		return Node{Kind: KindConst, Type: TypeBool, Name: "True", Value: 1}
	}
	return Node{Kind: KindConst, Type: TypeBool, Name: "False", Value: -1}
}

// VarNode returns a reference to a Real variable.
func VarNode(name string) Node {
	return Node{Kind: KindVar, Type: TypeReal, Name: name}
}

// PrevMarkerNode returns the marker read by prev.
func PrevMarkerNode(name string) Node {
	return Node{Kind: KindPrevMarker, Type: TypePrevVar, Name: name}
}

// EphemeralNode returns a drawn constant of type t.
func EphemeralNode(t Type, v float64) Node {
	return Node{Kind: KindEphemeral, Type: t, Value: v}
}

// Arity returns the number of child subtrees.
func (n Node) Arity() int {
	if n.Kind != KindOperator {
		return 0
	}
	return n.Op.Spec().Arity()
}

// IsNumeric reports whether the node is a numeric literal.
func (n Node) IsNumeric() bool {
	return (n.Kind == KindConst || n.Kind == KindEphemeral) && n.Name == ""
}

// Label returns the node's rendering in functional notation.
func (n Node) Label() string {
	switch n.Kind {
	case KindOperator:
		return n.Op.String()
	case KindVar, KindPrevMarker:
		return n.Name
	default:
		if n.Name != "" {
			return n.Name
		}
		return FormatNumber(n.Value)
	}
}

// FormatNumber renders a constant with the shortest exact representation.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
