// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package hub exposes the host-facing surface of the watcher core:
// command submission, outbound message polling, the ready callback, and
// status snapshots. It owns the two workers and routes commands between
// them.
package hub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/thejerf/suture/v4"

	"github.com/sentinelfs/sentinel/lib/message"
	"github.com/sentinelfs/sentinel/lib/native"
	"github.com/sentinelfs/sentinel/lib/poller"
	"github.com/sentinelfs/sentinel/lib/queue"
	"github.com/sentinelfs/sentinel/lib/status"
	"github.com/sentinelfs/sentinel/lib/worker"
)

const serviceTimeout = 10 * time.Second

type workerKind int

const (
	kindPolling workerKind = iota
	kindNative
)

// pendingCmd remembers enough about an in-flight command to maintain the
// channel registry when its ack comes back.
type pendingCmd struct {
	action  message.CommandAction
	channel message.ChannelID
}

// Hub is the host's handle on the watcher core. All methods are safe to
// call from the host goroutine; Submit assigns ids to commands submitted
// with id zero.
type Hub struct {
	polling *worker.Worker
	native  *worker.Worker

	// own carries acks produced on the host goroutine itself: routing
	// failures that never reach a worker.
	own *queue.Queue

	nextID   atomic.Uint32
	registry *xsync.MapOf[message.ChannelID, workerKind]
	pending  *xsync.MapOf[message.CommandID, pendingCmd]

	callback         atomic.Pointer[func()]
	pendingCallbacks atomic.Int32

	sup    *suture.Supervisor
	cancel context.CancelFunc
	done   <-chan error
}

func New() *Hub {
	h := &Hub{
		polling:  worker.New("polling", poller.New()),
		native:   worker.New("native", native.New()),
		own:      queue.New(),
		registry: xsync.NewMapOf[message.ChannelID, workerKind](),
		pending:  xsync.NewMapOf[message.CommandID, pendingCmd](),
	}
	h.polling.Out().OnEnqueue(h.notify)
	h.native.Out().OnEnqueue(h.notify)
	h.own.OnEnqueue(h.notify)

	h.sup = suture.New("hub", suture.Spec{
		EventHook: func(e suture.Event) { l.Debugln(e) },
		Timeout:   serviceTimeout,
	})
	h.sup.Add(h.polling)
	h.sup.Add(h.native)
	return h
}

// Start brings up the supervisor. Workers stay offline until an Add
// triggers them.
func (h *Hub) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = h.sup.ServeBackground(ctx)
}

// Stop gracefully stops both workers and tears down the supervisor.
func (h *Hub) Stop() {
	if h.cancel == nil {
		return
	}
	h.polling.Stop()
	h.native.Stop()
	h.cancel()
	<-h.done
}

// Submit enqueues a batch of commands, assigning ids where needed, and
// returns the id of every command in submission order.
func (h *Hub) Submit(cmds []message.CommandPayload) ([]message.CommandID, error) {
	ids := make([]message.CommandID, len(cmds))
	var toPolling, toNative []message.CommandPayload
	var acks []message.Message

	for i := range cmds {
		cmd := &cmds[i]
		if cmd.ID == message.NoCommand {
			cmd.ID = h.assignID()
		}
		ids[i] = cmd.ID

		switch cmd.Action {
		case message.CmdAdd:
			kind := kindNative
			if cmd.Poll {
				kind = kindPolling
			}
			if _, loaded := h.registry.LoadOrStore(cmd.Channel(), kind); loaded {
				acks = append(acks, message.Ack(message.AckFrom(cmd, fmt.Errorf("channel %d already in use", cmd.Channel()))))
				continue
			}
			h.pending.Store(cmd.ID, pendingCmd{cmd.Action, cmd.Channel()})
			if kind == kindPolling {
				toPolling = append(toPolling, *cmd)
			} else {
				toNative = append(toNative, *cmd)
			}
		case message.CmdRemove:
			kind, ok := h.registry.Load(cmd.Channel())
			if !ok {
				acks = append(acks, message.Ack(message.AckFrom(cmd, fmt.Errorf("no watch for channel %d", cmd.Channel()))))
				continue
			}
			h.pending.Store(cmd.ID, pendingCmd{cmd.Action, cmd.Channel()})
			if kind == kindPolling {
				toPolling = append(toPolling, *cmd)
			} else {
				toNative = append(toNative, *cmd)
			}
		default:
			// Log configuration, polling knobs and drains are serviced by
			// the polling worker, offline or not.
			toPolling = append(toPolling, *cmd)
		}
	}

	if len(acks) > 0 {
		if err := h.own.EnqueueAll(acks); err != nil {
			return ids, err
		}
	}
	if err := h.polling.Submit(toPolling); err != nil {
		return ids, err
	}
	if err := h.native.Submit(toNative); err != nil {
		return ids, err
	}
	return ids, nil
}

// Poll drains all outbound queues. The returned batch interleaves
// filesystem events and acks; within one worker the order is the order of
// emission.
func (h *Hub) Poll() []message.Message {
	h.pendingCallbacks.Store(0)

	var out []message.Message
	out = append(out, h.own.Accept()...)
	out = append(out, h.polling.Out().Accept()...)
	out = append(out, h.native.Out().Accept()...)

	for i := range out {
		if ack, ok := out[i].AsAck(); ok {
			h.observeAck(ack)
		}
	}
	return out
}

// SetMainCallback registers fn to be invoked whenever new outbound
// messages become available. fn must be safe to call from any goroutine
// and should only schedule a Poll, not perform one.
func (h *Hub) SetMainCallback(fn func()) {
	h.callback.Store(&fn)
}

func (h *Hub) Status() status.Status {
	var st status.Status
	st.PendingCallbacks = int(h.pendingCallbacks.Load())
	h.polling.CollectStatus(&st.Polling)
	h.native.CollectStatus(&st.Native)
	return st
}

func (h *Hub) assignID() message.CommandID {
	for {
		if id := message.CommandID(h.nextID.Add(1)); id != message.NoCommand {
			return id
		}
	}
}

// observeAck retires the pending record for an acked command and keeps the
// registry consistent: a failed Add never occupied its channel, a
// successful Remove frees it.
func (h *Hub) observeAck(ack *message.AckPayload) {
	pc, ok := h.pending.LoadAndDelete(ack.Key)
	if !ok {
		return
	}
	switch {
	case pc.action == message.CmdAdd && !ack.Success:
		h.registry.Delete(pc.channel)
	case pc.action == message.CmdRemove && ack.Success:
		h.registry.Delete(pc.channel)
	}
}

func (h *Hub) notify() {
	h.pendingCallbacks.Add(1)
	if fn := h.callback.Load(); fn != nil {
		(*fn)()
	}
}
