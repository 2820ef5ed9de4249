// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package worker implements the thread backbone shared by the polling and
// native watcher workers: paired inbound/outbound queues, a command
// dispatch loop, the offline command path, and lifecycle with health
// probes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelfs/sentinel/lib/logger"
	"github.com/sentinelfs/sentinel/lib/message"
	"github.com/sentinelfs/sentinel/lib/queue"
	"github.com/sentinelfs/sentinel/lib/status"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var errStopped = errors.New("worker stopped before the command was handled")

// Worker runs a Strategy on its own goroutine. The goroutine itself is
// owned by Serve, which a supervisor keeps alive for the life of the
// process; the body loop within it starts on demand and exits when the
// strategy triggers a stop, leaving the worker offline until the next
// start trigger.
type Worker struct {
	name     string
	strategy Strategy
	in       *queue.Queue
	out      *queue.Queue

	state    atomic.Int32
	stopping atomic.Bool
	wake     chan struct{}
	start    chan struct{}

	// mut serializes offline submission against body start/exit and
	// guards err and runDone.
	mut     sync.Mutex
	err     error
	runDone chan struct{}
}

func New(name string, strategy Strategy) *Worker {
	return &Worker{
		name:     name,
		strategy: strategy,
		in:       queue.New(),
		out:      queue.New(),
		wake:     make(chan struct{}, 1),
		start:    make(chan struct{}, 1),
	}
}

func (w *Worker) Name() string { return w.name }

// Out is the worker's outbound queue, drained by the host.
func (w *Worker) Out() *queue.Queue { return w.out }

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) StateName() string { return w.State().String() }

// Err returns the retained error from the last body run, nil if it exited
// cleanly or is still running.
func (w *Worker) Err() error {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.err
}

func (w *Worker) CollectStatus(st *status.Worker) {
	st.State = w.StateName()
	st.Err = errText(w.Err())
	st.InSize = w.in.Size()
	st.InErr = errText(w.in.Err())
	st.OutSize = w.out.Size()
	st.OutErr = errText(w.out.Err())
}

// Serve implements suture.Service. It parks until a start trigger arrives,
// runs the body loop to completion, and parks again. A panicking body is
// converted to a retained error and the worker returns to the offline
// state, restartable by a later Add.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.start:
		}
		w.run(ctx)
	}
}

func (w *Worker) String() string {
	return fmt.Sprintf("worker/%s@%p", w.name, w)
}

func (w *Worker) run(ctx context.Context) {
	w.mut.Lock()
	done := make(chan struct{})
	w.runDone = done
	w.err = nil
	w.mut.Unlock()

	err := w.protectedBody(ctx)

	w.mut.Lock()
	w.err = err
	w.runDone = nil
	w.stopping.Store(false)
	w.state.Store(int32(StateStopped))
	// Commands that arrived too late to be handled are failure-acked so
	// that every nonzero command id still produces exactly one ack.
	w.ackLeftovers()
	w.mut.Unlock()

	close(done)

	if err != nil {
		metricFatalErrors.WithLabelValues(w.name).Inc()
		l.Warnf("%s worker stopped: %v", w.name, err)
	} else {
		l.Debugf("%s worker stopped", w.name)
	}
}

func (w *Worker) protectedBody(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s worker panic: %v", w.name, r)
		}
	}()
	return w.body(ctx)
}

// body is the loop every worker runs: drain commands, check for stop, do
// one unit of strategy work, sleep for the strategy interval.
func (w *Worker) body(ctx context.Context) error {
	w.state.Store(int32(StateRunning))
	l.Debugf("%s worker running", w.name)

	for {
		w.handleCommands()

		if w.stopping.Load() || ctx.Err() != nil {
			w.state.Store(int32(StateStopping))
			return nil
		}

		batch := newBatch(w.name)
		err := w.strategy.Work(batch.emit)
		w.push(batch)
		if err != nil {
			w.state.Store(int32(StateStopping))
			return fmt.Errorf("%s worker body: %w", w.name, err)
		}

		timer := time.NewTimer(w.strategy.Interval())
		select {
		case <-timer.C:
		case <-w.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

func (w *Worker) handleCommands() {
	msgs := w.in.Accept()
	if len(msgs) == 0 {
		return
	}

	batch := newBatch(w.name)
	for i := range msgs {
		cmd, ok := msgs[i].AsCommand()
		if !ok {
			l.Warnf("%s worker dropping non-command inbound message %s", w.name, msgs[i].String())
			continue
		}
		metricCommands.WithLabelValues(w.name).Inc()
		l.Debugf("%s worker handling %s", w.name, cmd)

		outcome, err := w.dispatch(cmd, batch.emit)
		if err != nil && outcome == OutcomeNothing {
			// Per-command errors always surface as a failed ack.
			outcome = OutcomeAck
		}
		switch outcome {
		case OutcomeNothing:
		case OutcomeAck, OutcomeTriggerRun:
			batch.ack(cmd, err)
		case OutcomeTriggerStop:
			batch.ack(cmd, err)
			w.stopping.Store(true)
		}
	}
	w.push(batch)
}

// dispatch routes log configuration commands to the process logger and
// everything else to the strategy.
func (w *Worker) dispatch(cmd *message.CommandPayload, emit Emit) (CommandOutcome, error) {
	switch cmd.Action {
	case message.CmdLogToFile:
		return OutcomeAck, logger.DefaultLogger.ToFile(cmd.Root)
	case message.CmdLogToStderr:
		logger.DefaultLogger.ToStderr()
		return OutcomeAck, nil
	case message.CmdLogToStdout:
		logger.DefaultLogger.ToStdout()
		return OutcomeAck, nil
	case message.CmdLogDisable:
		logger.DefaultLogger.Disable()
		return OutcomeAck, nil
	default:
		return w.strategy.HandleCommand(cmd, emit)
	}
}

// Submit hands commands to the worker. While the body loop runs they are
// queued and the worker is signalled; while it is offline they are handled
// synchronously on the calling goroutine, which may trigger a start.
func (w *Worker) Submit(cmds []message.CommandPayload) error {
	if len(cmds) == 0 {
		return nil
	}

	w.mut.Lock()
	defer w.mut.Unlock()

	if State(w.state.Load()) != StateStopped {
		return w.submitRunning(cmds)
	}
	return w.submitOffline(cmds)
}

func (w *Worker) submitRunning(cmds []message.CommandPayload) error {
	batch := make([]message.Message, len(cmds))
	for i := range cmds {
		batch[i] = message.Command(cmds[i])
	}
	if err := w.in.EnqueueAll(batch); err != nil {
		return fmt.Errorf("%s worker inbound queue: %w", w.name, err)
	}
	w.signal()
	return nil
}

func (w *Worker) submitOffline(cmds []message.CommandPayload) error {
	batch := newBatch(w.name)
	for i := range cmds {
		cmd := &cmds[i]
		metricCommands.WithLabelValues(w.name).Inc()
		l.Debugf("%s worker handling %s offline", w.name, cmd)

		outcome, err := w.dispatchOffline(cmd)
		switch outcome {
		case OfflineAck, OfflineTriggerStop:
			batch.ack(cmd, err)
		case OfflineTriggerRun:
			// This command and the rest of the batch are handled by the
			// body loop once it is up.
			rest := make([]message.Message, 0, len(cmds)-i)
			for j := i; j < len(cmds); j++ {
				rest = append(rest, message.Command(cmds[j]))
			}
			if err := w.in.EnqueueAll(rest); err != nil {
				w.push(batch)
				return fmt.Errorf("%s worker inbound queue: %w", w.name, err)
			}
			w.startLocked()
			w.push(batch)
			return nil
		}
	}
	w.push(batch)
	return nil
}

func (w *Worker) dispatchOffline(cmd *message.CommandPayload) (OfflineOutcome, error) {
	switch cmd.Action {
	case message.CmdLogToFile:
		return OfflineAck, logger.DefaultLogger.ToFile(cmd.Root)
	case message.CmdLogToStderr:
		logger.DefaultLogger.ToStderr()
		return OfflineAck, nil
	case message.CmdLogToStdout:
		logger.DefaultLogger.ToStdout()
		return OfflineAck, nil
	case message.CmdLogDisable:
		logger.DefaultLogger.Disable()
		return OfflineAck, nil
	default:
		return w.strategy.HandleOfflineCommand(cmd)
	}
}

// startLocked triggers the parked Serve loop. Callers hold w.mut.
func (w *Worker) startLocked() {
	w.state.Store(int32(StateStarting))
	select {
	case w.start <- struct{}{}:
	default:
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop requests a cooperative stop and waits for the body loop to exit.
// An in-flight work pass completes first. No-op while offline.
func (w *Worker) Stop() {
	w.mut.Lock()
	if w.runDone == nil && State(w.state.Load()) == StateStopped {
		w.mut.Unlock()
		return
	}
	w.stopping.Store(true)
	done := w.runDone
	w.mut.Unlock()

	w.signal()
	if done != nil {
		<-done
		return
	}
	// A start was triggered but the body has not come up yet; once up it
	// handles the queued commands, observes the stop flag and exits before
	// any work pass.
	for State(w.state.Load()) != StateStopped {
		time.Sleep(time.Millisecond)
	}
}

func (w *Worker) ackLeftovers() {
	msgs := w.in.Accept()
	if len(msgs) == 0 {
		return
	}
	batch := newBatch(w.name)
	for i := range msgs {
		if cmd, ok := msgs[i].AsCommand(); ok {
			batch.ack(cmd, errStopped)
		}
	}
	w.push(batch)
}

func (w *Worker) push(b *outBatch) {
	if len(b.msgs) == 0 {
		return
	}
	if err := w.out.EnqueueAll(b.msgs); err != nil {
		l.Warnf("%s worker outbound queue: %v", w.name, err)
	}
	b.msgs = nil
}

// outBatch accumulates one pass worth of outbound messages so that the
// queue mutex is taken once per pass.
type outBatch struct {
	worker string
	msgs   []message.Message
}

func newBatch(worker string) *outBatch {
	return &outBatch{worker: worker}
}

func (b *outBatch) emit(msgs ...message.Message) {
	for i := range msgs {
		if msgs[i].Kind() == message.KindFilesystem {
			metricEvents.WithLabelValues(b.worker).Inc()
		}
	}
	b.msgs = append(b.msgs, msgs...)
}

func (b *outBatch) ack(cmd *message.CommandPayload, err error) {
	if cmd.ID == message.NoCommand {
		return
	}
	metricAcks.WithLabelValues(b.worker).Inc()
	b.msgs = append(b.msgs, message.Ack(message.AckFrom(cmd, err)))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
