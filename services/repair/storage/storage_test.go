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
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRunStore(db)
}

func sampleRequest() Request {
	return Request{Pre: "True", Post: "lt(x, 5)", TraceDir: "/tmp/traces", Inputs: []string{"x"}}
}

// =============================================================================
// DB Tests
// =============================================================================

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	assert.True(t, db.InMemory())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close must be idempotent")
}

func TestOpen_PersistentRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_PersistentSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	cfg.Logger = slog.New(slog.DiscardHandler)

	db, err := Open(cfg)
	require.NoError(t, err)
	assert.False(t, db.InMemory())
	run := NewRun(sampleRequest())
	require.NoError(t, NewRunStore(db).Save(context.Background(), run))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewRunStore(db).Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Request, got.Request)
}

func TestDB_CancelledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, NewRun(sampleRequest()))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.List(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// RunStore Tests
// =============================================================================

func TestRunStore_SaveGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := NewRun(sampleRequest())
	assert.Equal(t, StatusPending, run.Status)
	require.NoError(t, store.Save(ctx, run))

	run.Status = StatusSucceeded
	run.Result = &engine.Result{
		NoRepairNeeded: true,
		StopReason:     engine.StopNoRepairNeeded,
		Duration:       1500 * time.Millisecond,
	}
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.NoRepairNeeded)
	assert.Equal(t, 1500*time.Millisecond, got.Result.Duration)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestRunStore_GetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "0b8c9a5e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStore_SaveRejectsBadID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, nil), ErrInvalidRun)
	assert.ErrorIs(t, store.Save(ctx, &Run{}), ErrInvalidRun)
	assert.ErrorIs(t, store.Save(ctx, &Run{ID: "not-a-uuid"}), ErrInvalidRun)
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		run := NewRun(sampleRequest())
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(ctx, run))
		ids = append(ids, run.ID)
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[2], limited[0].ID)
	assert.Equal(t, ids[1], limited[1].ID)
}

func TestRunStore_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := NewRun(sampleRequest())
	require.NoError(t, store.Save(ctx, run))
	require.NoError(t, store.Delete(ctx, run.ID))

	_, err := store.Get(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.Delete(ctx, run.ID), ErrRunNotFound)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
