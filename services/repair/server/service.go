// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/AleutianAI/reqrepair/services/repair/telemetry"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
)

var (
	// ErrServiceClosed is returned once Close has been called.
	ErrServiceClosed = errors.New("repair service is closed")

	// ErrTraceDirOutsideRoot indicates a trace directory that escapes the
	// configured trace root.
	ErrTraceDirOutsideRoot = errors.New("trace directory outside trace root")
)

// Service runs repairs in the background and records them in a RunStore.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	engineCfg  engine.Config
	store      *storage.RunStore
	logger     *slog.Logger
	slots      chan struct{}
	runTimeout time.Duration
	traceRoot  string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  atomic.Int64

	// mu guards closed and inflight. Runs register under it so Close never
	// races a wg.Add, and saves are ordered against Delete.
	mu       sync.Mutex
	closed   bool
	inflight map[string]context.CancelFunc
}

// NewService returns a service that runs at most cfg.MaxConcurrentRuns
// repairs at a time with engineCfg as the base engine configuration.
func NewService(cfg Config, engineCfg engine.Config, store *storage.RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		engineCfg:  engineCfg,
		store:      store,
		logger:     logger.With(slog.String("component", "repair_service")),
		slots:      make(chan struct{}, max(1, cfg.MaxConcurrentRuns)),
		runTimeout: cfg.RunTimeout,
		traceRoot:  cfg.TraceRoot,
		baseCtx:    ctx,
		cancel:     cancel,
		inflight:   make(map[string]context.CancelFunc),
	}
}

// ActiveRuns returns the number of submitted runs not yet finished.
func (s *Service) ActiveRuns() int64 {
	return s.active.Load()
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// resolveTraceDir maps a requested trace directory into the trace root.
// Relative paths are joined to the root. Absolute paths must lie inside it.
// An empty root means the working directory.
func resolveTraceDir(root, dir string) (string, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving trace root: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving trace root: %w", err)
	}
	path := dir
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrTraceDirOutsideRoot, dir)
	}
	return path, nil
}

// prepare resolves the engine configuration and loads the problem of req.
func (s *Service) prepare(req storage.Request) (*engine.Engine, *engine.Problem, error) {
	cfg := s.engineCfg
	if req.Preset != "" {
		preset, err := engine.Preset(req.Preset)
		if err != nil {
			return nil, nil, err
		}
		preset.Workers = cfg.Workers
		preset.Seed = cfg.Seed
		cfg = preset
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	dir, err := resolveTraceDir(s.traceRoot, req.TraceDir)
	if err != nil {
		return nil, nil, err
	}
	suite, err := trace.LoadDir(dir, trace.LoadOptions{
		InputVariables: req.Inputs,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	p, err := engine.NewProblem(suite, req.Pre, req.Post, cfg.RangeWidening)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.NewEngine(cfg, engine.WithLogger(s.logger))
	if err != nil {
		return nil, nil, err
	}
	return eng, p, nil
}

// Check evaluates the requirement of req without repairing it.
func (s *Service) Check(ctx context.Context, req storage.Request) (*engine.CheckResult, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}
	eng, p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	return eng.Check(ctx, p)
}

// Submit validates req, stores a pending run and starts it in the background.
//
// Description:
//
//	Traces and requirement text are loaded before returning so malformed
//	requests fail synchronously. The repair itself waits for a free slot.
//
// Outputs:
//
//	*storage.Run - The pending run.
//	error - A trace, grammar or config error, ErrTraceDirOutsideRoot
//	        or ErrServiceClosed.
func (s *Service) Submit(ctx context.Context, req storage.Request) (*storage.Run, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}
	eng, p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	run := storage.NewRun(req)
	runCtx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrServiceClosed
	}
	s.inflight[run.ID] = cancel
	s.active.Add(1)
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.store.Save(ctx, run); err != nil {
		s.mu.Lock()
		delete(s.inflight, run.ID)
		s.mu.Unlock()
		cancel()
		s.active.Add(-1)
		s.wg.Done()
		return nil, fmt.Errorf("saving run: %w", err)
	}
	go s.execute(runCtx, cancel, *run, eng, p)
	return run, nil
}

func (s *Service) execute(ctx context.Context, cancel context.CancelFunc, run storage.Run, eng *engine.Engine, p *engine.Problem) {
	defer s.wg.Done()
	defer s.active.Add(-1)
	defer cancel()

	logger := telemetry.LoggerWithTrace(ctx, s.logger).With(slog.String("run_id", run.ID))

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		run.Status = storage.StatusFailed
		run.Error = ctx.Err().Error()
		s.finish(&run, logger)
		return
	}

	run.Status = storage.StatusRunning
	if !s.saveTracked(&run, false) {
		return
	}

	if s.runTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, s.runTimeout)
		defer stop()
	}
	res, err := eng.Repair(ctx, p)
	if err != nil {
		run.Status = storage.StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = storage.StatusSucceeded
		run.Result = res
	}
	s.finish(&run, logger)
}

// finish saves a terminal run unless it was deleted meanwhile.
func (s *Service) finish(run *storage.Run, logger *slog.Logger) {
	if !s.saveTracked(run, true) {
		logger.Info("run deleted before completion")
		return
	}
	logger.Info("run finished",
		slog.String("status", string(run.Status)),
		slog.String("error", run.Error),
	)
}

// saveTracked saves run only while it is still in flight. done removes it.
func (s *Service) saveTracked(run *storage.Run, done bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[run.ID]; !ok {
		return false
	}
	if done {
		delete(s.inflight, run.ID)
	}
	if err := s.store.Save(context.WithoutCancel(s.baseCtx), run); err != nil {
		s.logger.Error("saving run failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// Get returns a stored run.
func (s *Service) Get(ctx context.Context, id string) (*storage.Run, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*storage.Run, error) {
	return s.store.List(ctx, limit)
}

// Delete cancels a run if it is still in flight and removes it.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.inflight[id]; ok {
		cancel()
		delete(s.inflight, id)
	}
	return s.store.Delete(ctx, id)
}

// Wait blocks until every submitted run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight runs and waits for them until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}
