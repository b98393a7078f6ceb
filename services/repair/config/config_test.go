// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, engine.DefaultConfig().Generations, cfg.Engine.Generations)
	assert.Equal(t, "Time", cfg.Traces.TimeVariable)
	assert.Equal(t, "*.csv", cfg.Traces.Pattern)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Engine.PopulationSize, cfg.Engine.PopulationSize)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "reqrepair.yaml", `
traces:
  dir: /data/traces
  input_variables: [x, speed]
engine:
  generations: 7
  threshold: 95
server:
  addr: 0.0.0.0:9000
  run_timeout: 5m
storage:
  in_memory: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/traces", cfg.Traces.Dir)
	assert.Equal(t, []string{"x", "speed"}, cfg.Traces.InputVariables)
	assert.Equal(t, 7, cfg.Engine.Generations)
	assert.Equal(t, 95.0, cfg.Engine.Threshold)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, engine.DefaultConfig().PopulationSize, cfg.Engine.PopulationSize)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.RunTimeout)
	assert.True(t, cfg.Storage.InMemory)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "reqrepair.json", `{
  "traces": {"dir": "/json/traces"},
  "engine": {"population_size": 12, "aggregation": "no_aggregation"}
}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/json/traces", cfg.Traces.Dir)
	assert.Equal(t, 12, cfg.Engine.PopulationSize)
	assert.Equal(t, engine.AggregationNone, cfg.Engine.Aggregation)
}

func TestLoad_PresetThenFile(t *testing.T) {
	path := writeFile(t, "reqrepair.yaml", `
preset: alt_3
engine:
  generations: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alt_3", cfg.Preset)
	assert.Equal(t, 30, cfg.Engine.NumOffspring, "preset value kept")
	assert.True(t, cfg.Engine.RandomOffspring)
	assert.Equal(t, 4, cfg.Engine.Generations, "file overrides preset")
}

func TestLoad_PresetFromEnv(t *testing.T) {
	t.Setenv("REQREPAIR_PRESET", "hp_increase_tree_depth")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Engine.PreMaxDepth)
	assert.Equal(t, 6, cfg.Engine.PostMaxDepth)
}

func TestLoad_UnknownPreset(t *testing.T) {
	path := writeFile(t, "reqrepair.yaml", "preset: alt_99\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "reqrepair.yaml", `
traces:
  dir: /from/file
engine:
  generations: 7
`)
	t.Setenv("REQREPAIR_TRACE_DIR", "/from/env")
	t.Setenv("REQREPAIR_INPUTS", "x, y ,,z")
	t.Setenv("REQREPAIR_GENERATIONS", "11")
	t.Setenv("REQREPAIR_THRESHOLD", "90.5")
	t.Setenv("REQREPAIR_SEED", "42")
	t.Setenv("REQREPAIR_STORAGE_IN_MEMORY", "true")
	t.Setenv("REQREPAIR_LOG_LEVEL", "debug")
	t.Setenv("REQREPAIR_SERVER_TRACE_ROOT", "/srv/traces")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Traces.Dir)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.Traces.InputVariables)
	assert.Equal(t, 11, cfg.Engine.Generations)
	assert.Equal(t, 90.5, cfg.Engine.Threshold)
	assert.Equal(t, uint64(42), cfg.Engine.Seed)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/srv/traces", cfg.Server.TraceRoot)
}

func TestLoad_BadEnvValue(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"int", "REQREPAIR_GENERATIONS", "many"},
		{"float", "REQREPAIR_THRESHOLD", "high"},
		{"seed", "REQREPAIR_SEED", "-1"},
		{"bool", "REQREPAIR_STORAGE_IN_MEMORY", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"threshold", "engine:\n  threshold: 120\n"},
		{"aggregation", "engine:\n  aggregation: product\n"},
		{"depth bounds", "engine:\n  pre_min_depth: 5\n  pre_max_depth: 2\n"},
		{"server addr", "server:\n  addr: \"\"\n"},
		{"storage path", "storage:\n  path: \"\"\n"},
		{"exporter", "telemetry:\n  trace_exporter: zipkin\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_Unparseable(t *testing.T) {
	_, err := Load(writeFile(t, "broken.yaml", "engine: [unclosed\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
