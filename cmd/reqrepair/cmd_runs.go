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
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/server"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/spf13/cobra"
)

// withStore opens the run database for the duration of fn.
func (a *app) withStore(fn func(*storage.RunStore) error) error {
	scfg := a.cfg.Storage
	scfg.Logger = a.logger.Component("storage")
	db, err := storage.Open(scfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(storage.NewRunStore(db))
}

func (a *app) runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored repair runs",
	}

	var limit int
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(store *storage.RunStore) error {
				all, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.stdout, all)
				}
				printRuns(a.printer, all)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	list.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.RunStore) error {
				run, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.stdout, run)
				}
				a.printer.KeyValues([][2]string{
					{"ID", run.ID},
					{"Status", string(run.Status)},
					{"Traces", run.Request.TraceDir},
					{"Inputs", strings.Join(run.Request.Inputs, ", ")},
				})
				if run.Error != "" {
					a.printer.Error(run.Error)
				}
				if run.Result != nil {
					printResult(a.printer, run.Result)
				}
				return nil
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the run as JSON")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.RunStore) error {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.printer.Success("Deleted run " + args[0])
				return nil
			})
		},
	}

	runs.AddCommand(list, show, del)
	return runs
}

func (a *app) presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the engine presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows := make([][]string, 0)
			for _, name := range engine.PresetNames() {
				c, err := engine.Preset(name)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					name,
					strconv.Itoa(c.PopulationSize),
					strconv.Itoa(c.NumOffspring),
					strconv.FormatBool(c.RandomOffspring),
					fmt.Sprintf("%d-%d", c.PreMinDepth, c.PreMaxDepth),
					fmt.Sprintf("%d-%d", c.PostMinDepth, c.PostMaxDepth),
				})
			}
			a.printer.Table([]string{"Preset", "Population", "Offspring", "Random", "Pre depth", "Post depth"}, rows)
			return nil
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			a.printer.KeyValues([][2]string{
				{"reqrepair", server.Version},
				{"go", runtime.Version()},
				{"platform", runtime.GOOS + "/" + runtime.GOARCH},
			})
		},
	}
}
