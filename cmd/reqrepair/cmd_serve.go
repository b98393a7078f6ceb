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
	"fmt"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/server"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/AleutianAI/reqrepair/services/repair/telemetry"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr      string
		inMemory  bool
		traceRoot string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the repair HTTP API",
		Long: `Serves the repair API with Prometheus metrics on /metrics. Submitted
repairs run in the background and are stored in the run database.

Request trace directories are confined to --trace-root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if inMemory {
				cfg.Storage.InMemory = true
			}
			if traceRoot != "" {
				cfg.Server.TraceRoot = traceRoot
			}
			logger := a.logger.Slog()

			ctx := cmd.Context()
			shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(sctx); err != nil {
					logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()

			scfg := cfg.Storage
			scfg.Logger = a.logger.Component("storage")
			db, err := storage.Open(scfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := server.NewService(cfg.Server, cfg.Engine, storage.NewRunStore(db), logger)
			a.printer.Success(fmt.Sprintf("Serving on http://%s", cfg.Server.Addr))
			return server.New(cfg.Server, svc, logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from config)")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Keep runs in memory only")
	cmd.Flags().StringVar(&traceRoot, "trace-root", "", "Directory request trace paths are confined to (default: server.trace_root, else the working directory)")
	return cmd
}
