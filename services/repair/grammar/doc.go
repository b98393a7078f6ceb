// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grammar defines the typed requirement language used by the repair
// engine.
//
// # Overview
//
// A requirement is a pair of boolean expressions (precondition, postcondition)
// over trace variables. Expressions are stored as preorder node sequences
// (Tree) so that subtrees are contiguous slices, which keeps crossover and
// mutation cheap and type-safe.
//
// # Architecture
//
//	┌───────────────┐   Build    ┌────────────────────┐
//	│ VariableSource│──────────▶│ PrimitiveSet (pre)  │
//	│ (trace.Suite) │           │ PrimitiveSet (post) │
//	└───────────────┘           └─────────┬──────────┘
//	                                      │ Parse / Format
//	                                      ▼
//	                             ┌────────────────────┐
//	                             │ Tree / Requirement │
//	                             └────────────────────┘
//
// # Types
//
// Real and Bool are the value types of the language. Duration and PrevVar
// are terminal-only types that appear exclusively as arguments of dur and
// prev. Every type has at least one terminal in a built PrimitiveSet.
//
// # Thread Safety
//
// PrimitiveSet is immutable after Build and safe for concurrent use. Trees
// are plain slices; callers must Clone before mutating a shared tree.
package grammar
