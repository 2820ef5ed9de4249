// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package worker

import (
	"time"

	"github.com/sentinelfs/sentinel/lib/message"
)

// CommandOutcome is a strategy's verdict on a command handled while the
// worker is running.
type CommandOutcome int

const (
	// OutcomeNothing defers the ack; the strategy emits it on its own
	// schedule.
	OutcomeNothing CommandOutcome = iota
	// OutcomeAck acknowledges the command immediately.
	OutcomeAck
	// OutcomeTriggerRun is only meaningful on the offline path; while
	// running it is equivalent to OutcomeAck.
	OutcomeTriggerRun
	// OutcomeTriggerStop acknowledges the command and begins a graceful
	// stop.
	OutcomeTriggerStop
)

// OfflineOutcome is a strategy's verdict on a command handled
// synchronously on the submitting goroutine, while the worker is not
// running.
type OfflineOutcome int

const (
	// OfflineAck means the command was fully serviced offline.
	OfflineAck OfflineOutcome = iota
	// OfflineTriggerRun queues the command and starts the worker; the
	// command is handled on the first loop pass.
	OfflineTriggerRun
	// OfflineTriggerStop acknowledges without starting; the worker stays
	// stopped.
	OfflineTriggerStop
)

// Emit appends messages to the batch the worker pushes to its outbound
// queue at the end of the current pass.
type Emit func(msgs ...message.Message)

// A Strategy supplies the worker base with its subject-matter behavior.
// HandleCommand and Work run on the worker goroutine; HandleOfflineCommand
// runs on the submitting goroutine while the worker is stopped.
type Strategy interface {
	HandleCommand(cmd *message.CommandPayload, emit Emit) (CommandOutcome, error)
	HandleOfflineCommand(cmd *message.CommandPayload) (OfflineOutcome, error)
	Work(emit Emit) error
	Interval() time.Duration
}
