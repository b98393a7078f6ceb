// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command reqrepair repairs pre/post-condition requirements against
// recorded execution traces.
//
// Usage:
//
//	reqrepair repair --traces ./traces --pre 'True' --post 'lt(speed, 30)' --inputs throttle
//	reqrepair check  --traces ./traces --pre 'True' --post 'lt(speed, 30)'
//	reqrepair watch  --traces ./traces --pre 'True' --post 'lt(speed, 30)'
//	reqrepair serve  --addr 127.0.0.1:8089
//	reqrepair runs list
//
// Configuration is read from --config (default reqrepair.yaml) and
// REQREPAIR_* environment variables. Flags win over both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/reqrepair/pkg/logging"
	"github.com/AleutianAI/reqrepair/pkg/ux"
	"github.com/AleutianAI/reqrepair/services/repair/config"
	"github.com/spf13/cobra"
)

// errUnsatisfied makes check exit non-zero without printing an error.
var errUnsatisfied = errors.New("requirement not satisfied")

// app carries state shared by every subcommand.
type app struct {
	configPath string
	outputMode string
	logLevel   string
	verbose    bool

	cfg     config.Config
	logger  *logging.Logger
	printer *ux.Printer

	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Close()
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUnsatisfied):
		return 1
	default:
		p := a.printer
		if p == nil {
			p = ux.NewPrinter(stderr, ux.ModePlain)
		}
		p.Error(err.Error())
		return 1
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reqrepair",
		Short: "Repair pre/post-condition requirements against execution traces",
		Long: `reqrepair searches for minimal edits to a requirement so that it holds
on every recorded trace, using multi-objective genetic programming.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "reqrepair.yaml", "Path to a YAML or JSON configuration file")
	root.PersistentFlags().StringVarP(&a.outputMode, "output", "o", "auto", "Output style: auto, rich, plain or machine")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		a.repairCmd(),
		a.checkCmd(),
		a.watchCmd(),
		a.serveCmd(),
		a.runsCmd(),
		a.presetsCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	switch {
	case a.verbose:
		cfg.Logging.Level = "debug"
	case a.logLevel != "":
		cfg.Logging.Level = a.logLevel
	}
	if cfg.Logging.Writer == nil {
		cfg.Logging.Writer = a.stderr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger.SetDefault()

	mode, ok := ux.ParseMode(a.outputMode)
	if !ok {
		if a.outputMode != "" && a.outputMode != "auto" {
			return fmt.Errorf("unknown output mode %q", a.outputMode)
		}
		mode = ux.ModePlain
		if f, isFile := a.stdout.(*os.File); isFile {
			mode = ux.DetectMode(f)
		}
	}

	a.cfg = cfg
	a.logger = logger
	a.printer = ux.NewPrinter(a.stdout, mode)
	logger.Component("cli").Debug("configuration loaded",
		"config", a.configPath,
		"command", cmd.Name(),
		"preset", cfg.Preset,
	)
	return nil
}
