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

	"github.com/AleutianAI/reqrepair/pkg/ux"
	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
	"github.com/spf13/cobra"
)

// requirementFlags are shared by repair, check and watch.
type requirementFlags struct {
	traces string
	pre    string
	post   string
	inputs []string
	preset string
	seed   uint64
}

func (f *requirementFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.traces, "traces", "t", "", "Directory of CSV traces (default: traces.dir from config)")
	cmd.Flags().StringVar(&f.pre, "pre", "True", "Precondition in prefix notation")
	cmd.Flags().StringVar(&f.post, "post", "", "Postcondition in prefix notation")
	cmd.Flags().StringSliceVar(&f.inputs, "inputs", nil, "Input variables allowed in the precondition (default: traces.input_variables)")
	cmd.Flags().StringVar(&f.preset, "preset", "", "Engine preset (see 'reqrepair presets')")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed (0 keeps the configured seed)")
	_ = cmd.MarkFlagRequired("post")
}

// engineConfig applies the preset and seed flags to the configured engine.
func (a *app) engineConfig(f *requirementFlags) (engine.Config, error) {
	cfg := a.cfg.Engine
	if f.preset != "" {
		preset, err := engine.Preset(f.preset)
		if err != nil {
			return cfg, err
		}
		preset.Workers = cfg.Workers
		preset.Seed = cfg.Seed
		cfg = preset
	}
	if f.seed != 0 {
		cfg.Seed = f.seed
	}
	return cfg, cfg.Validate()
}

// loadOptions merges the trace flags with the configured trace settings.
func (a *app) loadOptions(f *requirementFlags) (string, trace.LoadOptions, error) {
	dir := f.traces
	if dir == "" {
		dir = a.cfg.Traces.Dir
	}
	if dir == "" {
		return "", trace.LoadOptions{}, errors.New("no trace directory: pass --traces or set traces.dir")
	}
	inputs := f.inputs
	if inputs == nil {
		inputs = a.cfg.Traces.InputVariables
	}
	return dir, trace.LoadOptions{
		InputVariables: inputs,
		TimeVariable:   a.cfg.Traces.TimeVariable,
		Pattern:        a.cfg.Traces.Pattern,
		Prev0:          a.cfg.Traces.Prev0,
		Logger:         a.logger.Component("trace"),
	}, nil
}

// problem loads the traces and parses the requirement.
func (a *app) problem(f *requirementFlags, widening float64) (*engine.Problem, error) {
	dir, opts, err := a.loadOptions(f)
	if err != nil {
		return nil, err
	}
	spin := a.printer.Spinner(a.stderr, "Loading traces from "+dir)
	spin.Start()
	suite, err := trace.LoadDir(dir, opts)
	spin.Stop()
	if err != nil {
		return nil, err
	}
	return engine.NewProblem(suite, f.pre, f.post, widening)
}

func (a *app) repairCmd() *cobra.Command {
	var (
		flags    requirementFlags
		baseline bool
		asJSON   bool
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Search for repaired versions of a requirement",
		Long: `Loads the traces, checks the requirement and, if it does not hold, runs
the genetic search and prints the Pareto archive of repairs.

With --baseline the constant-perturbation baseline runs instead.`,
		Example: `  reqrepair repair -t ./traces --pre 'True' --post 'lt(speed, 30)' --inputs throttle
  reqrepair repair -t ./traces --post 'lt(speed, 30)' --preset alt_3 --seed 7 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.engineConfig(&flags)
			if err != nil {
				return err
			}
			p, err := a.problem(&flags, cfg.RangeWidening)
			if err != nil {
				return err
			}

			logger := a.logger.Component("repair")
			logger.Info("starting repair",
				"pre", flags.pre,
				"post", flags.post,
				"traces", p.Suite.Len(),
				"baseline", baseline,
			)

			var res *engine.Result
			if baseline {
				eval := robustness.ForSuite(p.Suite, robustness.WithEpsilon(cfg.Epsilon))
				spin := a.printer.Spinner(a.stderr, "Perturbing constants")
				if !asJSON {
					spin.Start()
				}
				res, err = engine.ChangeConstant(cmd.Context(), eval, p, a.cfg.Baseline)
				spin.Stop()
			} else {
				res, err = a.runEngine(cmd.Context(), cfg, p, !asJSON)
			}
			if err != nil {
				return err
			}

			var run *storage.Run
			if save {
				if run, err = a.saveRun(cmd.Context(), &flags, res); err != nil {
					return err
				}
			}

			if asJSON {
				if run != nil {
					return writeJSON(a.stdout, run)
				}
				return writeJSON(a.stdout, res)
			}
			printResult(a.printer, res)
			if run != nil {
				a.printer.Info("Saved as run " + run.ID)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&baseline, "baseline", false, "Run the constant-perturbation baseline instead of the genetic search")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "Store the result in the run database")
	return cmd
}

// runEngine runs the genetic search, drawing a progress line on stderr.
func (a *app) runEngine(ctx context.Context, cfg engine.Config, p *engine.Problem, progress bool) (*engine.Result, error) {
	opts := []engine.Option{engine.WithLogger(a.logger.Component("engine"))}
	drawn := false
	if progress && a.printer.Mode() != ux.ModeMachine {
		opts = append(opts, engine.WithProgress(func(pr engine.Progress) {
			drawn = true
			fmt.Fprintf(a.stderr, "\r%s gen %d/%d  archive %d  evals %d",
				a.printer.ProgressBar(pr.Generation, cfg.Generations, 30),
				pr.Generation, cfg.Generations, pr.ArchiveSize, pr.Evaluations)
		}))
	}
	eng, err := engine.NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	res, err := eng.Repair(ctx, p)
	if drawn {
		fmt.Fprintln(a.stderr)
	}
	return res, err
}

// saveRun records a finished CLI repair in the run database.
func (a *app) saveRun(ctx context.Context, f *requirementFlags, res *engine.Result) (*storage.Run, error) {
	scfg := a.cfg.Storage
	scfg.Logger = a.logger.Component("storage")
	db, err := storage.Open(scfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	dir, opts, err := a.loadOptions(f)
	if err != nil {
		return nil, err
	}
	run := storage.NewRun(storage.Request{
		Pre:      f.pre,
		Post:     f.post,
		TraceDir: dir,
		Inputs:   opts.InputVariables,
		Preset:   f.preset,
		Seed:     f.seed,
	})
	run.Status = storage.StatusSucceeded
	run.Result = res
	if err := storage.NewRunStore(db).Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}
