// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine searches for repaired requirements with a multi-objective
// genetic algorithm.
//
// # Overview
//
// A run moves through these stages:
//
//	gate ──► init ──► evaluate ──┬──► select ──► vary ──► evaluate ──► merge ─┐
//	  │                          │                                            │
//	  └─► no repair necessary    └──────────────── next generation ◄──────────┘
//
// Objectives are minimized: correctness first, then either one weighted
// desirability value or one value per enabled desirability dimension.
// Survivors are chosen by non-dominated sorting and crowding distance. The
// non-dominated front of every generation feeds a Pareto archive, which is
// the result of the run.
//
// # Determinism
//
// A run draws every random decision from one PCG source seeded by
// Config.Seed. Parallel evaluation receives pre-drawn seeds, so equal seeds
// give equal results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/desirability"
	"github.com/AleutianAI/reqrepair/services/repair/generator"
	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/robustness"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
	"go.opentelemetry.io/otel/codes"
)

// seedStream decorrelates the second PCG word from the seed.
const seedStream = 0x9e3779b97f4a7c15

// -----------------------------------------------------------------------------
// Problem
// -----------------------------------------------------------------------------

// Problem is a requirement to repair against a trace suite.
type Problem struct {
	Suite    *trace.Suite
	PreSet   *grammar.PrimitiveSet
	PostSet  *grammar.PrimitiveSet
	Original grammar.Requirement
}

// NewProblem builds the grammars of suite and parses the requirement text.
//
// Inputs:
//
//	suite - Trace suite to repair against.
//	preText, postText - Requirement in functional notation.
//	widening - Ephemeral range widening factor.
//
// Outputs:
//
//	*Problem - Ready for Engine.Repair.
//	error - ErrInvalidProblem, a grammar error, or a *grammar.ParseError.
func NewProblem(suite *trace.Suite, preText, postText string, widening float64) (*Problem, error) {
	if suite == nil {
		return nil, fmt.Errorf("%w: nil suite", ErrInvalidProblem)
	}
	pre, post, err := grammar.Build(suite, grammar.BuildOptions{RangeWidening: widening})
	if err != nil {
		return nil, fmt.Errorf("building grammars: %w", err)
	}
	req, err := grammar.ParseRequirement(preText, postText, pre, post)
	if err != nil {
		return nil, err
	}
	return &Problem{Suite: suite, PreSet: pre, PostSet: post, Original: req}, nil
}

func (p *Problem) validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil problem", ErrInvalidProblem)
	case p.Suite == nil:
		return fmt.Errorf("%w: nil suite", ErrInvalidProblem)
	case p.PreSet == nil || p.PostSet == nil:
		return fmt.Errorf("%w: missing grammar", ErrInvalidProblem)
	}
	if err := p.Original.Pre.Check(grammar.TypeBool); err != nil {
		return fmt.Errorf("%w: precondition: %v", ErrInvalidProblem, err)
	}
	if err := p.Original.Post.Check(grammar.TypeBool); err != nil {
		return fmt.Errorf("%w: postcondition: %v", ErrInvalidProblem, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// StopReason explains why a run ended.
type StopReason string

const (
	StopNoRepairNeeded StopReason = "no_repair_needed"
	StopBudget         StopReason = "budget"
	StopPerfect        StopReason = "perfect"
)

// Result is the outcome of a repair run.
type Result struct {
	// NoRepairNeeded is set when the gate passed and no search ran.
	NoRepairNeeded bool `json:"no_repair_needed"`

	// Initial describes the requirement as given.
	Initial Solution `json:"initial"`

	// Solutions is the Pareto archive, best first.
	Solutions []Solution `json:"solutions"`

	Generations int           `json:"generations"`
	Evaluations int           `json:"evaluations"`
	StopReason  StopReason    `json:"stop_reason"`
	Duration    time.Duration `json:"duration"`
}

// Best returns the top-ranked solution.
func (r *Result) Best() (Solution, bool) {
	if r == nil || len(r.Solutions) == 0 {
		return Solution{}, false
	}
	return r.Solutions[0], true
}

// Progress is reported after every generation.
type Progress struct {
	Generation  int
	Evaluations int
	ArchiveSize int
	Best        Solution
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine runs repairs with a fixed configuration.
//
// # Thread Safety
//
// Safe for concurrent use. Every Repair call owns its random source,
// population and archive.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	evaluator Evaluator
	desir     *desirability.Desirability
	progress  func(Progress)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEvaluator replaces the robustness evaluator.
func WithEvaluator(ev Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithDesirability replaces the desirability bundle built from the config.
func WithDesirability(d *desirability.Desirability) Option {
	return func(e *Engine) { e.desir = d }
}

// WithProgress registers a callback invoked after every generation.
func WithProgress(fn func(Progress)) Option {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine validates cfg and builds an engine.
//
// Outputs:
//
//	*Engine - The engine.
//	error - ErrInvalidConfig or desirability.ErrUnknownStrategy.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default().With(slog.String("component", "repair_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.desir == nil {
		d, err := desirability.New(cfg.Strategies, cfg.Weights, cfg.DesirabilityOptions)
		if err != nil {
			return nil, err
		}
		e.desir = d
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Repair searches for repaired variants of p.Original.
//
// Description:
//
//	The original requirement is evaluated once. If it already meets the
//	threshold the run ends with NoRepairNeeded. Otherwise a population is
//	seeded with random trees for the sides that need repair plus the
//	original itself, and evolved until the generation budget is spent or a
//	candidate reaches an all-zero fitness.
//
// Inputs:
//
//	ctx - Cancels the run between generations and evaluations.
//	p - The problem to repair.
//
// Outputs:
//
//	*Result - The archive and run statistics.
//	error - ErrInvalidProblem or a *RepairError naming the failed stage.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Repair(ctx context.Context, p *Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := startRepairSpan(ctx, p, &e.cfg)
	defer span.End()

	logger := e.logger.With(
		slog.String("pre", p.Original.Pre.String()),
		slog.String("post", p.Original.Post.String()),
	)
	rs := &run{
		engine: e,
		p:      p,
		logger: logger,
		rng:    rand.New(rand.NewPCG(e.cfg.Seed, e.cfg.Seed^seedStream)),
		eval:   e.evaluator,
	}
	if rs.eval == nil {
		rs.eval = robustness.ForSuite(p.Suite, robustness.WithEpsilon(e.cfg.Epsilon))
	}

	res, err := rs.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("repair failed", slog.String("error", err.Error()))
		return nil, err
	}
	res.Duration = time.Since(start)
	setRepairSpanResult(span, res)
	recordRun(ctx, res.Duration, res)

	logger.Info("repair finished",
		slog.String("stop_reason", string(res.StopReason)),
		slog.Int("generations", res.Generations),
		slog.Int("evaluations", res.Evaluations),
		slog.Int("solutions", len(res.Solutions)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// CheckResult is the satisfaction of a requirement without repair.
type CheckResult struct {
	Requirement Solution `json:"requirement"`
	Satisfied   bool     `json:"satisfied"`
	Threshold   float64  `json:"threshold"`
	GateMode    string   `json:"gate_mode"`
}

// Check evaluates p.Original against the configured gate.
//
// Description:
//
//	Runs the same evaluation Repair starts with, without any search. Used
//	by the check command, the watch loop and POST /v1/check.
//
// Outputs:
//
//	*CheckResult - The report and whether the gate passes.
//	error - ErrInvalidProblem or a *RepairError at StageGate.
func (e *Engine) Check(ctx context.Context, p *Problem) (*CheckResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var eval Evaluator = e.evaluator
	if eval == nil {
		eval = robustness.ForSuite(p.Suite, robustness.WithEpsilon(e.cfg.Epsilon))
	}
	rep, err := eval.Satisfaction(ctx, p.Suite, p.Original)
	if err != nil {
		return nil, &RepairError{Stage: StageGate, Err: err}
	}
	return &CheckResult{
		Requirement: originalSolution(p.Original, rep),
		Satisfied:   e.cfg.Satisfied(rep),
		Threshold:   e.cfg.Threshold,
		GateMode:    e.cfg.GateMode,
	}, nil
}

func originalSolution(req grammar.Requirement, rep robustness.Report) Solution {
	return Solution{
		Pre:         req.Pre.String(),
		Post:        req.Post.String(),
		PreInfix:    req.Pre.Infix(),
		PostInfix:   req.Post.Infix(),
		Correctness: rep.Correctness(),
		Report:      rep,
	}
}

// run is the state of one Repair call.
type run struct {
	engine *Engine
	p      *Problem
	logger *slog.Logger
	rng    *rand.Rand
	eval   Evaluator
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	cfg := &r.engine.cfg

	origReport, err := r.eval.Satisfaction(ctx, r.p.Suite, r.p.Original)
	if err != nil {
		return nil, &RepairError{Stage: StageGate, Err: err}
	}
	res := &Result{Initial: originalSolution(r.p.Original, origReport)}

	if cfg.Satisfied(origReport) {
		r.logger.Info("no repair necessary",
			slog.Float64("pre_percent", origReport.Pre.ItemPercent()),
			slog.Float64("post_percent", origReport.Post.ItemPercent()),
			slog.Float64("threshold", cfg.Threshold),
		)
		res.NoRepairNeeded = true
		res.StopReason = StopNoRepairNeeded
		return res, nil
	}

	sides := r.sidesToRepair(origReport)
	r.logger.Info("repair started",
		slog.Any("sides", sides),
		slog.Float64("correctness", origReport.Correctness()),
	)

	gen := generator.New(r.rng)
	pop, err := r.initPopulation(gen, sides)
	if err != nil {
		return nil, &RepairError{Stage: StageInit, Err: err}
	}

	ff := &fitnessFunc{
		eval:        r.eval,
		desir:       r.engine.desir,
		aggregation: cfg.Aggregation,
		suite:       r.p.Suite,
		original:    r.p.Original,
		origReport:  origReport,
		workers:     cfg.workers(),
	}
	n, err := ff.evaluate(ctx, pop, r.rng)
	if err != nil {
		return nil, &RepairError{Stage: StageEvaluate, Err: err}
	}
	res.Evaluations += n
	recordEvaluations(ctx, n)

	archive := NewArchive()
	archive.Update(firstFront(pop))
	res.StopReason = StopBudget

	vary := &variation{
		rng:      r.rng,
		gen:      gen,
		psets:    map[grammar.Side]*grammar.PrimitiveSet{grammar.SidePre: r.p.PreSet, grammar.SidePost: r.p.PostSet},
		cxProb:   cfg.CrossoverProb,
		mutProb:  cfg.MutationProb,
		mutMin:   cfg.MutationMinDepth,
		mutMax:   cfg.MutationMaxDepth,
		maxSize:  cfg.MaxTreeSize,
		randPick: cfg.RandomOffspring,
	}

	if anyPerfect(pop) {
		res.StopReason = StopPerfect
	}
	for g := 1; g <= cfg.Generations && res.StopReason != StopPerfect; g++ {
		if err := ctx.Err(); err != nil {
			return nil, &RepairError{Stage: StageGeneration, Generation: g, Err: err}
		}

		parents := selectNSGA2(pop, cfg.PopulationSize)
		offspring, err := vary.breed(parents, cfg.NumOffspring, g)
		if err != nil {
			return nil, &RepairError{Stage: StageVary, Generation: g, Err: err}
		}
		n, err := ff.evaluate(ctx, offspring, r.rng)
		if err != nil {
			return nil, &RepairError{Stage: StageEvaluate, Generation: g, Err: err}
		}
		res.Evaluations += n
		recordEvaluations(ctx, n)

		combined := make([]*Candidate, 0, len(parents)+len(offspring))
		combined = append(combined, parents...)
		combined = append(combined, offspring...)
		archive.Update(firstFront(combined))
		pop = selectNSGA2(combined, cfg.PopulationSize)
		res.Generations = g

		best, _ := archive.Best()
		r.logger.Debug("generation complete",
			slog.Int("generation", g),
			slog.Int("evaluated", n),
			slog.Int("archive", archive.Len()),
			slog.Any("best_fitness", best.Fitness),
		)
		if fn := r.engine.progress; fn != nil {
			fn(Progress{Generation: g, Evaluations: res.Evaluations, ArchiveSize: archive.Len(), Best: best})
		}
		if anyPerfect(combined) {
			res.StopReason = StopPerfect
		}
	}

	res.Solutions = archive.Solutions()
	return res, nil
}

// sidesToRepair lists the sides below the threshold, or both when each side
// passes on its own.
func (r *run) sidesToRepair(rep robustness.Report) []grammar.Side {
	t := r.engine.cfg.Threshold
	var sides []grammar.Side
	if rep.Pre.ItemPercent() < t {
		sides = append(sides, grammar.SidePre)
	}
	if rep.Post.ItemPercent() < t {
		sides = append(sides, grammar.SidePost)
	}
	if len(sides) == 0 {
		sides = []grammar.Side{grammar.SidePre, grammar.SidePost}
	}
	return sides
}

// pickTarget draws the target of a new candidate.
func (r *run) pickTarget(sides []grammar.Side) Target {
	if r.engine.cfg.TargetMode == TargetModeBoth && len(sides) == 2 {
		return TargetBoth
	}
	return targetOf(sides[r.rng.IntN(len(sides))])
}

// initPopulation builds N random candidates plus the original.
func (r *run) initPopulation(gen *generator.Generator, sides []grammar.Side) ([]*Candidate, error) {
	cfg := &r.engine.cfg
	pop := make([]*Candidate, 0, cfg.PopulationSize+1)
	for i := 0; i < cfg.PopulationSize; i++ {
		target := r.pickTarget(sides)
		req := r.p.Original.Clone()
		for _, side := range target.Sides() {
			minD, maxD := cfg.PreMinDepth, cfg.PreMaxDepth
			pset := r.p.PreSet
			if side == grammar.SidePost {
				minD, maxD = cfg.PostMinDepth, cfg.PostMaxDepth
				pset = r.p.PostSet
			}
			tree, err := r.seedTree(gen, pset, minD, maxD)
			if err != nil {
				return nil, err
			}
			if tree == nil {
				// Nothing fit under MaxTreeSize; the side stays original.
				continue
			}
			req = req.WithSide(side, tree)
		}
		pop = append(pop, &Candidate{Req: req, Target: target})
	}
	pop = append(pop, &Candidate{Req: r.p.Original.Clone(), Target: r.pickTarget(sides)})
	return pop, nil
}

// seedAttempts bounds regeneration of oversized initial trees.
const seedAttempts = 32

// seedTree generates a Bool tree within MaxTreeSize. It returns nil when
// every attempt came out oversized.
func (r *run) seedTree(gen *generator.Generator, pset *grammar.PrimitiveSet, minD, maxD int) (grammar.Tree, error) {
	for range seedAttempts {
		tree, err := gen.Generate(pset, minD, maxD, grammar.TypeBool)
		if err != nil {
			return nil, err
		}
		if len(tree) <= r.engine.cfg.MaxTreeSize {
			return tree, nil
		}
	}
	return nil, nil
}

func anyPerfect(pop []*Candidate) bool {
	for _, c := range pop {
		if c.perfect() {
			return true
		}
	}
	return false
}
