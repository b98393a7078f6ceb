// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package desirability

import (
	"math"

	"github.com/AleutianAI/reqrepair/services/repair/grammar"
)

// token is the label a node contributes to syntactic comparisons. Numeric
// literals collapse to one token so that constant tuning is not drift.
func token(n grammar.Node) string {
	switch {
	case n.Kind == grammar.KindPrevMarker:
		return "_" + n.Name
	case n.IsNumeric():
		return "num:" + n.Type.String()
	default:
		return n.Label()
	}
}

// -----------------------------------------------------------------------------
// Cosine
// -----------------------------------------------------------------------------

// CosineDistance compares node-label frequency vectors.
type CosineDistance struct{}

// Name returns "cosine".
func (CosineDistance) Name() string { return "cosine" }

// Distance returns 1 - cosine similarity, averaged over pre and post.
func (c CosineDistance) Distance(candidate, original grammar.Requirement) float64 {
	return 0.5*cosineDistance(candidate.Pre, original.Pre) + 0.5*cosineDistance(candidate.Post, original.Post)
}

func cosineDistance(a, b grammar.Tree) float64 {
	if a.Equal(b) {
		return 0
	}
	fa, fb := frequencies(a), frequencies(b)
	var dot, na, nb float64
	for k, va := range fa {
		dot += va * fb[k]
		na += va * va
	}
	for _, vb := range fb {
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, 1-sim))
}

func frequencies(t grammar.Tree) map[string]float64 {
	out := make(map[string]float64, len(t))
	for _, n := range t {
		out[token(n)]++
	}
	return out
}

// -----------------------------------------------------------------------------
// Tree edit distance
// -----------------------------------------------------------------------------

// TreeEditDistance is the Zhang-Shasha ordered tree edit distance with unit
// costs, normalized by the larger tree.
type TreeEditDistance struct{}

// Name returns "ted".
func (TreeEditDistance) Name() string { return "ted" }

// Distance returns the normalized edit distance averaged over pre and post.
func (d TreeEditDistance) Distance(candidate, original grammar.Requirement) float64 {
	return 0.5*normalizedTED(candidate.Pre, original.Pre) + 0.5*normalizedTED(candidate.Post, original.Post)
}

func normalizedTED(a, b grammar.Tree) float64 {
	size := max(len(a), len(b))
	if size == 0 {
		return 0
	}
	return float64(EditDistance(a, b)) / float64(size)
}

// postorderTree is a tree flattened in postorder with leftmost leaves.
type postorderTree struct {
	labels []string
	lml    []int
}

func toPostorder(t grammar.Tree) postorderTree {
	var p postorderTree
	var walk func(i int) (next, leftmost int)
	walk = func(i int) (int, int) {
		next, leftmost := i+1, -1
		for k := 0; k < t[i].Arity() && next < len(t); k++ {
			var l int
			next, l = walk(next)
			if leftmost < 0 {
				leftmost = l
			}
		}
		idx := len(p.labels)
		p.labels = append(p.labels, token(t[i]))
		if leftmost < 0 {
			leftmost = idx
		}
		p.lml = append(p.lml, leftmost)
		return next, leftmost
	}
	if len(t) > 0 {
		walk(0)
	}
	return p
}

func (p postorderTree) keyroots() []int {
	seen := make(map[int]bool, len(p.lml))
	var out []int
	for i := len(p.lml) - 1; i >= 0; i-- {
		if !seen[p.lml[i]] {
			seen[p.lml[i]] = true
			out = append(out, i)
		}
	}
	// Ascending order so subproblems are solved first.
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// EditDistance returns the number of insert, delete and relabel operations
// needed to turn a into b.
func EditDistance(a, b grammar.Tree) int {
	ta, tb := toPostorder(a), toPostorder(b)
	n1, n2 := len(ta.labels), len(tb.labels)
	if n1 == 0 || n2 == 0 {
		return n1 + n2
	}

	td := make([][]int, n1)
	for i := range td {
		td[i] = make([]int, n2)
	}

	for _, i := range ta.keyroots() {
		for _, j := range tb.keyroots() {
			li, lj := ta.lml[i], tb.lml[j]
			m, n := i-li+2, j-lj+2
			fd := make([][]int, m)
			for x := range fd {
				fd[x] = make([]int, n)
			}
			for x := 1; x < m; x++ {
				fd[x][0] = fd[x-1][0] + 1
			}
			for y := 1; y < n; y++ {
				fd[0][y] = fd[0][y-1] + 1
			}
			for x := 1; x < m; x++ {
				for y := 1; y < n; y++ {
					i1, j1 := li+x-1, lj+y-1
					if ta.lml[i1] == li && tb.lml[j1] == lj {
						cost := 1
						if ta.labels[i1] == tb.labels[j1] {
							cost = 0
						}
						fd[x][y] = min(fd[x-1][y]+1, fd[x][y-1]+1, fd[x-1][y-1]+cost)
						td[i1][j1] = fd[x][y]
					} else {
						p, q := ta.lml[i1]-li, tb.lml[j1]-lj
						fd[x][y] = min(fd[x-1][y]+1, fd[x][y-1]+1, fd[p][q]+td[i1][j1])
					}
				}
			}
		}
	}
	return td[n1-1][n2-1]
}
