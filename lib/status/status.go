// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package status holds the diagnostic snapshot populated on demand by the
// hub and its workers.
package status

import (
	"fmt"
	"strings"
)

// Worker is one worker's health snapshot.
type Worker struct {
	State   string `json:"state"`
	Err     string `json:"error,omitempty"`
	InSize  int    `json:"inQueueSize"`
	InErr   string `json:"inQueueError,omitempty"`
	OutSize int    `json:"outQueueSize"`
	OutErr  string `json:"outQueueError,omitempty"`
}

// Status is the process-wide snapshot.
type Status struct {
	PendingCallbacks int    `json:"pendingCallbacks"`
	Polling          Worker `json:"polling"`
	Native           Worker `json:"native"`
}

func (s Status) String() string {
	var b strings.Builder
	b.WriteString("SENTINEL STATUS SUMMARY\n")
	b.WriteString("* main thread:\n")
	fmt.Fprintf(&b, "  - %s\n", plural(s.PendingCallbacks, "pending callback"))
	writeWorker(&b, "polling worker", s.Polling)
	writeWorker(&b, "native worker", s.Native)
	return b.String()
}

func writeWorker(b *strings.Builder, name string, w Worker) {
	fmt.Fprintf(b, "* %s:\n", name)
	fmt.Fprintf(b, "  - state: %s\n", w.State)
	fmt.Fprintf(b, "  - health: %s\n", health(w.Err))
	fmt.Fprintf(b, "  - in queue health: %s\n", health(w.InErr))
	fmt.Fprintf(b, "  - %s\n", plural(w.InSize, "in queue message"))
	fmt.Fprintf(b, "  - out queue health: %s\n", health(w.OutErr))
	fmt.Fprintf(b, "  - %s\n", plural(w.OutSize, "out queue message"))
}

func health(errText string) string {
	if errText == "" {
		return "ok"
	}
	return errText
}

func plural(count int, noun string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, noun)
	}
	return fmt.Sprintf("%d %ss", count, noun)
}
