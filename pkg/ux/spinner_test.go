// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Spinner Tests
// =============================================================================

func TestSpinner_MachinePrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	spin := NewPrinter(&bytes.Buffer{}, ModeMachine).Spinner(&buf, "Searching")
	spin.Start()
	spin.Start()
	spin.Stop()

	if got := buf.String(); got != "PROGRESS: Searching\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSpinner_PlainPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	spin := NewPrinter(&bytes.Buffer{}, ModePlain).Spinner(&buf, "Loading traces")
	spin.Start()
	spin.Stop()
	spin.Stop()

	if got := buf.String(); got != "Loading traces...\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSpinner_RichAnimatesAndClears(t *testing.T) {
	var buf bytes.Buffer
	spin := NewPrinter(&bytes.Buffer{}, ModeRich).Spinner(&buf, "Repairing")
	spin.Start()
	time.Sleep(3 * spinnerInterval)
	spin.Update("Still repairing")
	time.Sleep(2 * spinnerInterval)
	spin.Stop()

	out := buf.String()
	if !strings.Contains(out, "Repairing") {
		t.Errorf("output missing first message: %q", out)
	}
	if !strings.Contains(out, "Still repairing") {
		t.Errorf("output missing updated message: %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("output should end by clearing the line: %q", out)
	}
	if spin.Elapsed() <= 0 {
		t.Error("Elapsed should be positive after Start")
	}
}

func TestSpinner_StopBeforeStart(t *testing.T) {
	spin := NewPrinter(&bytes.Buffer{}, ModeRich).Spinner(&bytes.Buffer{}, "idle")
	spin.Stop()
	if spin.Elapsed() != 0 {
		t.Error("Elapsed should be zero before Start")
	}
}
