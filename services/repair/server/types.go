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
	"github.com/AleutianAI/reqrepair/services/repair/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional context.
	Details string `json:"details,omitempty"`
}

// SubmitResponse is returned by POST /v1/repair.
type SubmitResponse struct {
	ID     string         `json:"id"`
	Status storage.Status `json:"status"`
}

// RunsResponse is returned by GET /v1/runs.
type RunsResponse struct {
	Runs  []*storage.Run `json:"runs"`
	Count int            `json:"count"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ActiveRuns int64  `json:"active_runs"`
}

// Error codes.
const (
	codeInvalidRequest     = "INVALID_REQUEST"
	codeInvalidRequirement = "INVALID_REQUIREMENT"
	codeInvalidTraces      = "INVALID_TRACES"
	codeInvalidPreset      = "INVALID_PRESET"
	codeRunNotFound        = "RUN_NOT_FOUND"
	codeRateLimited        = "RATE_LIMITED"
	codeUnavailable        = "SERVICE_UNAVAILABLE"
	codeInternal           = "INTERNAL_ERROR"
)
