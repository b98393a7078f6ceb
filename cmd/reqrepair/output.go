// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/AleutianAI/reqrepair/pkg/ux"
	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
)

// =============================================================================
// Rendering
// =============================================================================

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

// reportPairs summarizes a satisfaction report.
func reportPairs(rep robustness.Report) [][2]string {
	return [][2]string{
		{"Precondition", pct(rep.Pre.ItemPercent()) + " of items, " + pct(rep.Pre.TracePercent()) + " of traces"},
		{"Postcondition", pct(rep.Post.ItemPercent()) + " of items, " + pct(rep.Post.TracePercent()) + " of traces"},
		{"Implication", pct(rep.Implication.ItemPercent()) + " of items, " + pct(rep.Implication.TracePercent()) + " of traces"},
		{"Correctness", num(rep.Correctness())},
	}
}

// printRequirement prints a requirement with its satisfaction report.
func printRequirement(p *ux.Printer, title string, s engine.Solution) {
	p.Title(title)
	pairs := [][2]string{{"Requirement", s.PreInfix + " => " + s.PostInfix}}
	p.KeyValues(append(pairs, reportPairs(s.Report)...))
}

// printResult prints a repair result the way a terminal user reads it.
func printResult(p *ux.Printer, res *engine.Result) {
	printRequirement(p, "Initial requirement", res.Initial)
	if res.NoRepairNeeded {
		p.Success("No repair necessary")
		p.Info("Repair time: " + res.Duration.Round(time.Millisecond).String())
		return
	}

	rows := make([][]string, 0, len(res.Solutions))
	for i, s := range res.Solutions {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.PreInfix,
			s.PostInfix,
			s.Target,
			num(s.Correctness),
			pct(s.Report.Implication.ItemPercent()),
			num(s.Desirability.Sanity),
			num(s.Desirability.Similarity),
			num(s.Desirability.Extent),
			strconv.Itoa(s.Generation),
		})
	}
	p.Title("Repaired requirements")
	p.Table([]string{"#", "Pre", "Post", "Target", "Correctness", "Satisfied", "Sanity", "Similarity", "Extent", "Gen"}, rows)

	if best, ok := res.Best(); ok && best.Report.Implication.ItemPercent() >= 100 {
		p.Success(fmt.Sprintf("Found %d repair(s)", len(res.Solutions)))
	} else {
		p.Warning("No candidate satisfies every trace; showing the closest")
	}
	p.KeyValues([][2]string{
		{"Generations", strconv.Itoa(res.Generations)},
		{"Evaluations", strconv.Itoa(res.Evaluations)},
		{"Stop reason", string(res.StopReason)},
		{"Repair time", res.Duration.Round(time.Millisecond).String()},
	})
}

// printCheck prints the outcome of a requirement check.
func printCheck(p *ux.Printer, res *engine.CheckResult) {
	printRequirement(p, "Requirement check", res.Requirement)
	if res.Satisfied {
		p.Success(fmt.Sprintf("Satisfied (threshold %s, gate %s)", pct(res.Threshold), res.GateMode))
	} else {
		p.Warning(fmt.Sprintf("Not satisfied (threshold %s, gate %s)", pct(res.Threshold), res.GateMode))
	}
}

// printRuns lists stored runs.
func printRuns(p *ux.Printer, runs []*storage.Run) {
	if len(runs) == 0 {
		p.Info("No runs stored")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		best := "-"
		if s, ok := r.Result.Best(); ok {
			best = s.PreInfix + " => " + s.PostInfix
		} else if r.Result != nil && r.Result.NoRepairNeeded {
			best = "(no repair needed)"
		}
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			r.CreatedAt.Local().Format(time.DateTime),
			r.Request.Pre + " => " + r.Request.Post,
			best,
		})
	}
	p.Table([]string{"ID", "Status", "Created", "Requirement", "Best"}, rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
