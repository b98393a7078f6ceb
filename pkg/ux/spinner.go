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
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinnerInterval is the frame period.
const spinnerInterval = 80 * time.Millisecond

// Spinner animates a one-line status while a long step runs.
//
// Only rich mode animates. Plain and machine modes print the message once
// on Start so logs and pipes stay readable.
//
// Thread Safety: Safe for concurrent use.
type Spinner struct {
	w    io.Writer
	mode Mode

	mu        sync.Mutex
	message   string
	running   bool
	stop      chan struct{}
	done      chan struct{}
	frameIdx  int
	startedAt time.Time
}

// Spinner returns a spinner drawing to w with the printer's mode. The
// printer's own writer is usually stdout, so callers pass stderr here to
// keep results clean.
func (p *Printer) Spinner(w io.Writer, message string) *Spinner {
	return &Spinner{w: w, mode: p.mode, message: message}
}

// Start begins the animation. A second Start is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.startedAt = time.Now()

	switch s.mode {
	case ModeMachine:
		fmt.Fprintf(s.w, "PROGRESS: %s\n", s.message)
		return
	case ModePlain:
		fmt.Fprintf(s.w, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate()
}

func (s *Spinner) animate() {
	defer close(s.done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			fmt.Fprint(s.w, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := Styles.Highlight.Render(spinnerFrames[s.frameIdx])
			fmt.Fprintf(s.w, "\r%s %s %s", frame, s.message,
				Styles.Muted.Render(time.Since(s.startedAt).Round(time.Second).String()))
			s.frameIdx = (s.frameIdx + 1) % len(spinnerFrames)
			s.mu.Unlock()
		}
	}
}

// Update replaces the message while running.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears the line. Safe to call twice.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Elapsed returns the time since Start.
func (s *Spinner) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
