// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrInvalidProblem indicates a problem missing its suite or grammars.
	ErrInvalidProblem = errors.New("invalid repair problem")
)

// Repair stages reported by RepairError.
const (
	StageSetup      = "setup"
	StageGate       = "gate"
	StageInit       = "init"
	StageEvaluate   = "evaluate"
	StageVary       = "vary"
	StageGeneration = "generation"
)

// RepairError wraps a failure with the engine stage it happened in.
type RepairError struct {
	Stage      string
	Generation int
	Err        error
}

func (e *RepairError) Error() string {
	if e.Generation > 0 {
		return fmt.Sprintf("repair %s (generation %d): %v", e.Stage, e.Generation, e.Err)
	}
	return fmt.Sprintf("repair %s: %v", e.Stage, e.Err)
}

func (e *RepairError) Unwrap() error {
	return e.Err
}
