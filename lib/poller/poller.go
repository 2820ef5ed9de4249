// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package poller implements the polling worker: it owns the set of polled
// roots and walks each on a schedule under a global throttle budget,
// diffing the result against the prior snapshot.
package poller

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sentinelfs/sentinel/lib/message"
	"github.com/sentinelfs/sentinel/lib/worker"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPollThrottle = 7000
)

// Poller is the polling worker's strategy. The roots map is touched only
// on the worker goroutine; interval and throttle are atomics because the
// offline command path updates them from the submitting goroutine.
type Poller struct {
	roots map[message.ChannelID]*PolledRoot
	order []message.ChannelID

	interval atomic.Int64 // ns
	throttle atomic.Int64
}

func New() *Poller {
	p := &Poller{
		roots: make(map[message.ChannelID]*PolledRoot),
	}
	p.interval.Store(int64(DefaultPollInterval))
	p.throttle.Store(DefaultPollThrottle)
	return p
}

func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

func (p *Poller) HandleCommand(cmd *message.CommandPayload, _ worker.Emit) (worker.CommandOutcome, error) {
	switch cmd.Action {
	case message.CmdAdd:
		return p.handleAdd(cmd)
	case message.CmdRemove:
		return p.handleRemove(cmd)
	case message.CmdPollingInterval:
		p.setInterval(cmd.Arg)
		return worker.OutcomeAck, nil
	case message.CmdPollingThrottle:
		p.setThrottle(cmd.Arg)
		return worker.OutcomeAck, nil
	case message.CmdDrain:
		// Events from earlier cycles are already on the outbound queue;
		// the ack lines up behind them.
		return worker.OutcomeAck, nil
	default:
		return worker.OutcomeAck, fmt.Errorf("polling worker does not support %s", cmd.Action)
	}
}

func (p *Poller) HandleOfflineCommand(cmd *message.CommandPayload) (worker.OfflineOutcome, error) {
	switch cmd.Action {
	case message.CmdAdd:
		return worker.OfflineTriggerRun, nil
	case message.CmdRemove:
		return worker.OfflineAck, fmt.Errorf("no polled root for channel %d", cmd.Channel())
	case message.CmdPollingInterval:
		p.setInterval(cmd.Arg)
		return worker.OfflineAck, nil
	case message.CmdPollingThrottle:
		p.setThrottle(cmd.Arg)
		return worker.OfflineAck, nil
	case message.CmdDrain:
		return worker.OfflineAck, nil
	default:
		return worker.OfflineAck, fmt.Errorf("polling worker does not support %s", cmd.Action)
	}
}

func (p *Poller) handleAdd(cmd *message.CommandPayload) (worker.CommandOutcome, error) {
	channel := cmd.Channel()
	if channel == message.NoChannel {
		return worker.OutcomeAck, fmt.Errorf("add requires a channel id")
	}
	if _, ok := p.roots[channel]; ok {
		return worker.OutcomeAck, fmt.Errorf("channel %d already in use", channel)
	}

	l.Debugf("adding poll root at %q to channel %d", cmd.Root, channel)
	root, err := newPolledRoot(cmd.Root, cmd.ID, channel)
	if err != nil {
		return worker.OutcomeAck, err
	}
	p.roots[channel] = root
	p.order = append(p.order, channel)
	metricRoots.Set(float64(len(p.roots)))
	return worker.OutcomeAck, nil
}

func (p *Poller) handleRemove(cmd *message.CommandPayload) (worker.CommandOutcome, error) {
	channel := cmd.Channel()
	if _, ok := p.roots[channel]; !ok {
		return worker.OutcomeAck, fmt.Errorf("no polled root for channel %d", channel)
	}

	l.Debugf("removing poll root at channel %d", channel)
	delete(p.roots, channel)
	for i, ch := range p.order {
		if ch == channel {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	metricRoots.Set(float64(len(p.roots)))

	if len(p.roots) == 0 {
		l.Debugln("final poll root removed")
		return worker.OutcomeTriggerStop, nil
	}
	return worker.OutcomeAck, nil
}

// Work runs one poll cycle. Roots are visited in insertion order; each is
// allotted an equal share of the remaining throttle budget, and roots that
// finish under budget donate the residue to the ones after them.
func (p *Poller) Work(emit worker.Emit) error {
	if len(p.order) == 0 {
		return nil
	}

	buf := &eventBuffer{}
	remaining := int(p.throttle.Load())
	rootsLeft := len(p.order)
	l.Debugf("polling %d roots with %d throttle slots", rootsLeft, remaining)

	for _, channel := range p.order {
		root := p.roots[channel]
		allotment := remaining / rootsLeft
		progress := root.advance(buf, allotment)
		remaining -= progress
		rootsLeft--
		metricSlots.Add(float64(progress))
		l.Debugf("%s consumed %d of %d allotted slots", root, progress, allotment)
	}

	metricCycles.Inc()
	emit(buf.messages()...)
	return nil
}

func (p *Poller) setInterval(ms uint32) {
	p.interval.Store(int64(time.Duration(ms) * time.Millisecond))
}

func (p *Poller) setThrottle(slots uint32) {
	p.throttle.Store(int64(slots))
}
