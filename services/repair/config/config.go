// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the reqrepair configuration file.
//
// Priority is env > file > preset > defaults. The file may be YAML or JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/reqrepair/pkg/logging"
	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/server"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/AleutianAI/reqrepair/services/repair/telemetry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// envPrefix prefixes every environment override.
const envPrefix = "REQREPAIR_"

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// Config is the complete reqrepair configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Preset names the engine preset the Engine section starts from.
	Preset string `json:"preset" yaml:"preset"`

	// Traces locates the trace suite.
	Traces TracesConfig `json:"traces" yaml:"traces"`

	// Engine contains the genetic search settings.
	Engine engine.Config `json:"engine" yaml:"engine"`

	// Baseline contains the constant-perturbation baseline settings.
	Baseline engine.BaselineConfig `json:"baseline" yaml:"baseline"`

	// Logging contains log output settings.
	Logging logging.Config `json:"logging" yaml:"logging"`

	// Server contains HTTP API settings.
	Server server.Config `json:"server" yaml:"server"`

	// Storage contains run database settings.
	Storage storage.Config `json:"storage" yaml:"storage"`

	// Telemetry contains tracing and metrics exporter settings.
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// TracesConfig locates and interprets the CSV traces.
type TracesConfig struct {
	Dir            string   `json:"dir" yaml:"dir"`
	InputVariables []string `json:"input_variables" yaml:"input_variables"`
	TimeVariable   string   `json:"time_variable" yaml:"time_variable"`
	Pattern        string   `json:"pattern" yaml:"pattern"`
	Prev0          float64  `json:"prev0" yaml:"prev0"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Traces:    TracesConfig{TimeVariable: "Time", Pattern: "*.csv"},
		Engine:    engine.DefaultConfig(),
		Baseline:  engine.DefaultBaselineConfig(),
		Logging:   logging.Config{Level: "info", Service: "reqrepair"},
		Server:    server.DefaultConfig(),
		Storage:   storage.DefaultConfig("~/.reqrepair/runs"),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads configuration with priority: env > file > preset > defaults.
//
// Description:
//
//	When the file (or REQREPAIR_PRESET) names a preset, the engine section
//	starts from that preset and the file's engine keys are applied on top.
//	The file is tried as YAML, then as JSON. A missing file is not an
//	error so a default path can always be passed.
//
// Inputs:
//
//	path - Path to a YAML or JSON file. Empty uses defaults only.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Wraps ErrInvalidConfig when parsing or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = b
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if data != nil {
		var head struct {
			Preset string `json:"preset" yaml:"preset"`
		}
		if err := unmarshal(data, &head); err != nil {
			return cfg, err
		}
		cfg.Preset = head.Preset
	}
	if v := os.Getenv(envPrefix + "PRESET"); v != "" {
		cfg.Preset = v
	}
	if cfg.Preset != "" {
		preset, err := engine.Preset(cfg.Preset)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg.Engine = preset
	}

	if data != nil {
		preset := cfg.Preset
		if err := unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
		cfg.Preset = preset
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// unmarshal tries YAML first, then JSON.
func unmarshal(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr != nil {
			return fmt.Errorf("%w: parse config (tried YAML and JSON): YAML error: %v, JSON error: %v", ErrInvalidConfig, err, jsonErr)
		}
	}
	return nil
}

// envVar describes one REQREPAIR_* override.
type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"TRACE_DIR", func(c *Config, v string) error { c.Traces.Dir = v; return nil }},
	{"INPUTS", func(c *Config, v string) error { c.Traces.InputVariables = splitList(v); return nil }},
	{"GENERATIONS", intVar(func(c *Config) *int { return &c.Engine.Generations })},
	{"POPULATION_SIZE", intVar(func(c *Config) *int { return &c.Engine.PopulationSize })},
	{"NUM_OFFSPRING", intVar(func(c *Config) *int { return &c.Engine.NumOffspring })},
	{"WORKERS", intVar(func(c *Config) *int { return &c.Engine.Workers })},
	{"THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Engine.Threshold })},
	{"SEED", func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.Engine.Seed = n
		return nil
	}},
	{"AGGREGATION", func(c *Config, v string) error { c.Engine.Aggregation = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_DIR", func(c *Config, v string) error { c.Logging.LogDir = v; return nil }},
	{"SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"SERVER_TRACE_ROOT", func(c *Config, v string) error { c.Server.TraceRoot = v; return nil }},
	{"STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"STORAGE_IN_MEMORY", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Storage.InMemory = b
		return err
	}},
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatVar(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func applyEnv(c *Config) error {
	for _, ev := range envVars {
		v := os.Getenv(envPrefix + ev.name)
		if v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, envPrefix, ev.name, v, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless storage.in_memory is set", ErrInvalidConfig)
	}
	return nil
}
