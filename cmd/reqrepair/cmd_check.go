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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
	"github.com/spf13/cobra"
)

func (a *app) checkCmd() *cobra.Command {
	var (
		flags  requirementFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a requirement against the traces without repairing it",
		Long: `Prints how much of the trace suite satisfies the precondition, the
postcondition and the implication. Exits with status 1 when the
requirement does not meet the configured threshold.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.engineConfig(&flags)
			if err != nil {
				return err
			}
			p, err := a.problem(&flags, cfg.RangeWidening)
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(cfg, engine.WithLogger(a.logger.Component("engine")))
			if err != nil {
				return err
			}
			res, err := eng.Check(cmd.Context(), p)
			if err != nil {
				return err
			}

			if asJSON {
				if err := writeJSON(a.stdout, res); err != nil {
					return err
				}
			} else {
				printCheck(a.printer, res)
			}
			if !res.Satisfied {
				return errUnsatisfied
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var (
		flags    requirementFlags
		debounce time.Duration
		repair   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-check a requirement whenever the trace directory changes",
		Long: `Watches the trace directory and re-evaluates the requirement after every
burst of file changes. With --repair a failing requirement is repaired
on the spot. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.engineConfig(&flags)
			if err != nil {
				return err
			}
			dir, opts, err := a.loadOptions(&flags)
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(cfg, engine.WithLogger(a.logger.Component("engine")))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			handler := func(suite *trace.Suite, err error) {
				if err != nil {
					a.printer.Warning("Reload failed: " + err.Error())
					return
				}
				if err := a.recheck(ctx, eng, cfg, suite, &flags, repair); err != nil && !errors.Is(err, context.Canceled) {
					a.printer.Error(err.Error())
				}
			}

			w, err := trace.NewSuiteWatcher(dir, handler, &trace.WatcherOptions{
				Load:           opts,
				DebounceWindow: debounce,
			})
			if err != nil {
				return err
			}
			a.printer.Info(fmt.Sprintf("Watching %s (Ctrl-C to stop)", dir))
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "Quiet period before reloading after a change")
	cmd.Flags().BoolVar(&repair, "repair", false, "Repair the requirement when the check fails")
	return cmd
}

// recheck evaluates the requirement on a freshly loaded suite.
func (a *app) recheck(ctx context.Context, eng *engine.Engine, cfg engine.Config, suite *trace.Suite, f *requirementFlags, repair bool) error {
	p, err := engine.NewProblem(suite, f.pre, f.post, cfg.RangeWidening)
	if err != nil {
		return err
	}
	res, err := eng.Check(ctx, p)
	if err != nil {
		return err
	}
	a.printer.Info(fmt.Sprintf("Loaded %d trace(s) at %s", suite.Len(), time.Now().Format(time.TimeOnly)))
	printCheck(a.printer, res)
	if res.Satisfied || !repair {
		return nil
	}
	out, err := a.runEngine(ctx, cfg, p, true)
	if err != nil {
		return err
	}
	printResult(a.printer, out)
	return nil
}
