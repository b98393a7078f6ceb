// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	// ErrRunNotFound indicates no run with the given ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRun indicates a run that cannot be stored.
	ErrInvalidRun = errors.New("invalid run")
)

const runPrefix = "run:"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the run can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Request describes what a run repairs.
type Request struct {
	// Pre and Post are the requirement in functional notation.
	Pre  string `json:"pre" binding:"required" validate:"required"`
	Post string `json:"post" binding:"required" validate:"required"`

	// TraceDir is the directory of CSV traces.
	TraceDir string `json:"trace_dir" binding:"required" validate:"required"`

	// Inputs are the input variable names. Empty uses the loader default.
	Inputs []string `json:"inputs,omitempty"`

	// Preset names an engine preset. Empty uses the server's config.
	Preset string `json:"preset,omitempty"`

	// Seed overrides the engine seed when non-zero.
	Seed uint64 `json:"seed,omitempty"`
}

// Run is one stored repair.
type Run struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Request   Request        `json:"request"`
	Result    *engine.Result `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewRun returns a pending run with a fresh ID.
func NewRun(req Request) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// RunStore reads and writes runs.
//
// # Thread Safety
//
// Safe for concurrent use.
type RunStore struct {
	db *DB
}

// NewRunStore returns a store over db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Save inserts or replaces a run and stamps UpdatedAt.
func (s *RunStore) Save(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRun)
	}
	if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("%w: id %q: %v", ErrInvalidRun, run.ID, err)
	}
	run.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
}

// Get loads a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(runs, func(a, b *Run) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Delete removes a run.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	return s.db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, id)
			}
			return err
		}
		return txn.Delete(runKey(id))
	})
}
