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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/reqrepair/services/repair/engine"
	"github.com/AleutianAI/reqrepair/services/repair/grammar"
	"github.com/AleutianAI/reqrepair/services/repair/storage"
	"github.com/AleutianAI/reqrepair/services/repair/trace"
	"github.com/gin-gonic/gin"
)

// Version is reported by GET /health.
const Version = "0.1.0"

// defaultListLimit caps GET /v1/runs without a limit parameter.
const defaultListLimit = 50

// Handlers contains the HTTP handlers for the repair API.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger.With(slog.String("component", "http"))}
}

// HandleRepair handles POST /v1/repair.
//
// Description:
//
//	Validates the request, loads its traces and starts an asynchronous
//	repair. Poll GET /v1/runs/:id for the result.
//
// Request Body:
//
//	storage.Request
//
// Response:
//
//	202 Accepted: SubmitResponse
//	400 Bad Request: Validation, requirement or trace error
//	429 Too Many Requests: Rate limited
//	500 Internal Server Error: Storage error
func (h *Handlers) HandleRepair(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRepair")

	var req storage.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    codeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	run, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, logger, "Submit failed", err)
		return
	}
	logger.Info("Repair submitted", "run_id", run.ID, "pre", req.Pre, "post", req.Post)
	c.JSON(http.StatusAccepted, SubmitResponse{ID: run.ID, Status: run.Status})
}

// HandleCheck handles POST /v1/check.
//
// Description:
//
//	Evaluates a requirement against its traces without repairing it.
//
// Response:
//
//	200 OK: engine.CheckResult
//	400 Bad Request: Validation, requirement or trace error
func (h *Handlers) HandleCheck(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCheck")

	var req storage.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    codeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	res, err := h.svc.Check(c.Request.Context(), req)
	if err != nil {
		h.fail(c, logger, "Check failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleListRuns handles GET /v1/runs.
//
// Query Parameters:
//
//	limit: Maximum number of runs (optional, default 50, 0 for all)
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleListRuns")

	limit := defaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  codeInvalidRequest,
			})
			return
		}
		limit = n
	}

	runs, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, logger, "List failed", err)
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// HandleGetRun handles GET /v1/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleGetRun")

	run, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, logger, "Get failed", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// HandleDeleteRun handles DELETE /v1/runs/:id.
func (h *Handlers) HandleDeleteRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleDeleteRun")

	id := c.Param("id")
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, logger, "Delete failed", err)
		return
	}
	logger.Info("Run deleted", "run_id", id)
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    Version,
		ActiveRuns: h.svc.ActiveRuns(),
	})
}

// fail maps err to a status code and error code and writes the response.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var perr *grammar.ParseError
	switch {
	case errors.Is(err, storage.ErrRunNotFound):
		return http.StatusNotFound, codeRunNotFound
	case errors.As(err, &perr),
		errors.Is(err, grammar.ErrParse),
		errors.Is(err, grammar.ErrUnknownVariable),
		errors.Is(err, grammar.ErrUnknownOperator),
		errors.Is(err, grammar.ErrTypeMismatch):
		return http.StatusBadRequest, codeInvalidRequirement
	case errors.Is(err, trace.ErrEmptySuite),
		errors.Is(err, trace.ErrEmptyTrace),
		errors.Is(err, trace.ErrSchemaMismatch),
		errors.Is(err, trace.ErrMissingTime),
		errors.Is(err, trace.ErrMissingVariable),
		errors.Is(err, trace.ErrNonMonotonicTime),
		errors.Is(err, trace.ErrUnknownVariable),
		errors.Is(err, trace.ErrInvalidFile),
		errors.Is(err, ErrTraceDirOutsideRoot):
		return http.StatusBadRequest, codeInvalidTraces
	case errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest, codeInvalidPreset
	case errors.Is(err, ErrServiceClosed):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
