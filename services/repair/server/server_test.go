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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Helpers
// =============================================================================

// rampDir writes one trace with x rising 0..9 and y = 2x.
func rampDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("Time,x,y\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%d,%d,%d\n", i, i, 2*i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ramp.csv"), []byte(b.String()), 0o644))
	return dir
}

func testEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Generations = 2
	cfg.PopulationSize = 4
	cfg.NumOffspring = 4
	cfg.Workers = 1
	cfg.Seed = 7
	return cfg
}

type testServer struct {
	svc     *Service
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	cfg.TraceRoot = os.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(cfg, testEngineConfig(), storage.NewRunStore(db), logger)
	t.Cleanup(func() {
		_ = svc.Close(context.Background())
		_ = db.Close()
	})
	return &testServer{svc: svc, handler: New(cfg, svc, logger).Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// Health and Metrics
// =============================================================================

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_Echoed(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/health", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reqrepair_server_requests_total")
}

// =============================================================================
// Check
// =============================================================================

func TestHandleCheck(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := rampDir(t)

	rec := ts.do(t, http.MethodPost, "/v1/check", storage.Request{
		Pre: "True", Post: "lt(x, 10)", TraceDir: dir, Inputs: []string{"x"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.CheckResult](t, rec)
	assert.True(t, res.Satisfied)
	assert.Equal(t, "(x < 10)", res.Requirement.PostInfix)

	rec = ts.do(t, http.MethodPost, "/v1/check", storage.Request{
		Pre: "True", Post: "lt(x, 5)", TraceDir: dir, Inputs: []string{"x"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[engine.CheckResult](t, rec).Satisfied)
}

func TestHandleCheck_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := rampDir(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing fields", map[string]string{"pre": "True"}, codeInvalidRequest},
		{"parse error", storage.Request{Pre: "True", Post: "lt(x,", TraceDir: dir}, codeInvalidRequirement},
		{"unknown variable", storage.Request{Pre: "True", Post: "lt(speed, 1)", TraceDir: dir}, codeInvalidRequirement},
		{"no traces", storage.Request{Pre: "True", Post: "True", TraceDir: filepath.Join(dir, "missing")}, codeInvalidTraces},
		{"unknown input", storage.Request{Pre: "True", Post: "True", TraceDir: dir, Inputs: []string{"z"}}, codeInvalidTraces},
		{"unknown preset", storage.Request{Pre: "True", Post: "True", TraceDir: dir, Preset: "alt_42"}, codeInvalidPreset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/check", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// Runs
// =============================================================================

func TestRepairLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := rampDir(t)

	rec := ts.do(t, http.MethodPost, "/v1/repair", storage.Request{
		Pre: "True", Post: "lt(x, 5)", TraceDir: dir, Inputs: []string{"x"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode[SubmitResponse](t, rec)
	assert.Equal(t, storage.StatusPending, submitted.Status)

	ts.svc.Wait()

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[storage.Run](t, rec)
	assert.Equal(t, storage.StatusSucceeded, run.Status, run.Error)
	require.NotNil(t, run.Result)
	assert.False(t, run.Result.NoRepairNeeded)
	assert.NotEmpty(t, run.Result.Solutions)
	assert.Equal(t, 2, run.Result.Generations)

	rec = ts.do(t, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[RunsResponse](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = ts.do(t, http.MethodDelete, "/v1/runs/"+submitted.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+submitted.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeRunNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestRepair_NoRepairNeeded(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/v1/repair", storage.Request{
		Pre: "True", Post: "lt(x, 10)", TraceDir: rampDir(t),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[SubmitResponse](t, rec).ID
	ts.svc.Wait()

	run, err := ts.svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.NoRepairNeeded)
}

func TestHandleListRuns_BadLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[RunsResponse](t, rec).Count)
}

func TestHandleDeleteRun_Missing(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodDelete, "/v1/runs/9a7d0a52-1111-4222-8333-444455556666", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepair_RateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	req := storage.Request{Pre: "True", Post: "lt(x, 10)", TraceDir: rampDir(t)}

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/v1/repair", req).Code)
	rec := ts.do(t, http.MethodPost, "/v1/repair", req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, decode[ErrorResponse](t, rec).Code)

	// The limiter guards submissions only.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/check", req).Code)
	ts.svc.Wait()
}

func TestService_ClosedRejects(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.svc.Close(context.Background()))

	rec := ts.do(t, http.MethodPost, "/v1/repair", storage.Request{
		Pre: "True", Post: "True", TraceDir: rampDir(t),
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codeUnavailable, decode[ErrorResponse](t, rec).Code)
}

func TestService_PresetAndSeed(t *testing.T) {
	ts := newTestServer(t, nil)
	eng, _, err := ts.svc.prepare(storage.Request{
		Pre: "True", Post: "True", TraceDir: rampDir(t), Preset: "alt_3", Seed: 99,
	})
	require.NoError(t, err)
	cfg := eng.Config()
	assert.Equal(t, 30, cfg.NumOffspring)
	assert.Equal(t, uint64(99), cfg.Seed)
	assert.Equal(t, 1, cfg.Workers)
}

func TestService_CloseWhileSubmitting(t *testing.T) {
	ts := newTestServer(t, nil)
	req := storage.Request{Pre: "True", Post: "lt(x, 5)", TraceDir: rampDir(t), Inputs: []string{"x"}}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.svc.Submit(context.Background(), req)
			if err != nil {
				assert.ErrorIs(t, err, ErrServiceClosed)
			}
		}()
	}
	require.NoError(t, ts.svc.Close(context.Background()))
	assert.Zero(t, ts.svc.ActiveRuns(), "no run may start after Close returns")
	wg.Wait()
	assert.Zero(t, ts.svc.ActiveRuns())

	_, err := ts.svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestService_TraceRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "ramp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ramp", "r.csv"), []byte("Time,x\n0,0\n1,1\n"), 0o644))
	ts := newTestServer(t, func(c *Config) { c.TraceRoot = root })

	_, _, err := ts.svc.prepare(storage.Request{Pre: "True", Post: "True", TraceDir: "ramp"})
	require.NoError(t, err, "relative directories resolve against the root")
	_, _, err = ts.svc.prepare(storage.Request{Pre: "True", Post: "True", TraceDir: filepath.Join(root, "ramp")})
	require.NoError(t, err, "absolute directories inside the root are allowed")

	outside := []string{
		"..",
		filepath.Join("ramp", "..", ".."),
		rampDir(t),
		string(filepath.Separator),
	}
	for _, dir := range outside {
		t.Run(dir, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/check", storage.Request{Pre: "True", Post: "True", TraceDir: dir})
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, codeInvalidTraces, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestResolveTraceDir(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "data", "traces")
	tests := []struct {
		dir  string
		want string
		err  bool
	}{
		{"", root, false},
		{"run1", filepath.Join(root, "run1"), false},
		{filepath.Join(root, "run2"), filepath.Join(root, "run2"), false},
		{filepath.Join("a", "..", "run3"), filepath.Join(root, "run3"), false},
		{"..", "", true},
		{filepath.Join("..", "tracesx"), "", true},
		{filepath.Join(string(filepath.Separator), "data", "tracesx"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			got, err := resolveTraceDir(root, tt.dir)
			if tt.err {
				assert.ErrorIs(t, err, ErrTraceDirOutsideRoot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
