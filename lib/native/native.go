// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package native implements the OS-notification watcher worker. It obeys
// the same worker contract as the polling worker; the platform specifics
// live behind the notify backend.
package native

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/syncthing/notify"

	"github.com/sentinelfs/sentinel/lib/message"
	"github.com/sentinelfs/sentinel/lib/worker"
)

// Notify does not block on sending to the backend channel, so it must be
// buffered. Filling it up loses events; the drain pass detects that and
// reports it.
const backendBuffer = 500

const drainInterval = 50 * time.Millisecond

// watchPoint is one channel's set of watch registrations. All
// registrations feed the same backend channel.
type watchPoint struct {
	root    string
	channel message.ChannelID
	backend chan notify.EventInfo
	paths   []string
}

// Watcher is the native worker's strategy. The channels map is touched
// only on the worker goroutine.
type Watcher struct {
	channels map[message.ChannelID]*watchPoint
	order    []message.ChannelID

	interval atomic.Int64 // ns
}

func New() *Watcher {
	w := &Watcher{
		channels: make(map[message.ChannelID]*watchPoint),
	}
	w.interval.Store(int64(drainInterval))
	return w
}

func (w *Watcher) Interval() time.Duration {
	return time.Duration(w.interval.Load())
}

func (w *Watcher) HandleCommand(cmd *message.CommandPayload, _ worker.Emit) (worker.CommandOutcome, error) {
	switch cmd.Action {
	case message.CmdAdd:
		return w.handleAdd(cmd)
	case message.CmdRemove:
		return w.handleRemove(cmd)
	case message.CmdDrain:
		return worker.OutcomeAck, nil
	default:
		return worker.OutcomeAck, fmt.Errorf("native worker does not support %s", cmd.Action)
	}
}

func (w *Watcher) HandleOfflineCommand(cmd *message.CommandPayload) (worker.OfflineOutcome, error) {
	switch cmd.Action {
	case message.CmdAdd:
		return worker.OfflineTriggerRun, nil
	case message.CmdRemove:
		return worker.OfflineAck, fmt.Errorf("no watch for channel %d", cmd.Channel())
	case message.CmdDrain:
		return worker.OfflineAck, nil
	default:
		return worker.OfflineAck, fmt.Errorf("native worker does not support %s", cmd.Action)
	}
}

func (w *Watcher) handleAdd(cmd *message.CommandPayload) (worker.CommandOutcome, error) {
	channel := cmd.Channel()
	if channel == message.NoChannel {
		return worker.OutcomeAck, fmt.Errorf("add requires a channel id")
	}
	if _, ok := w.channels[channel]; ok {
		return worker.OutcomeAck, fmt.Errorf("channel %d already in use", channel)
	}

	root, err := filepath.Abs(cmd.Root)
	if err != nil {
		return worker.OutcomeAck, fmt.Errorf("resolving root %q: %w", cmd.Root, err)
	}
	if info, err := os.Lstat(root); err != nil {
		return worker.OutcomeAck, fmt.Errorf("root %q: %w", root, err)
	} else if !info.IsDir() {
		return worker.OutcomeAck, fmt.Errorf("root %q is not a directory", root)
	}

	wp := &watchPoint{
		root:    root,
		channel: channel,
		backend: make(chan notify.EventInfo, backendBuffer),
		paths:   watchPaths(root, cmd.SplitCount),
	}
	for _, p := range wp.paths {
		if err := notify.Watch(p, wp.backend, notify.All); err != nil {
			notify.Stop(wp.backend)
			return worker.OutcomeAck, fmt.Errorf("watching %q: %w", p, err)
		}
	}

	l.Debugf("watching %q on channel %d across %d watch points", root, channel, len(wp.paths))
	w.channels[channel] = wp
	w.order = append(w.order, channel)
	metricWatchPoints.Set(float64(len(w.channels)))
	return worker.OutcomeAck, nil
}

func (w *Watcher) handleRemove(cmd *message.CommandPayload) (worker.CommandOutcome, error) {
	channel := cmd.Channel()
	wp, ok := w.channels[channel]
	if !ok {
		return worker.OutcomeAck, fmt.Errorf("no watch for channel %d", channel)
	}

	notify.Stop(wp.backend)
	delete(w.channels, channel)
	for i, ch := range w.order {
		if ch == channel {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	metricWatchPoints.Set(float64(len(w.channels)))

	if len(w.channels) == 0 {
		l.Debugln("final watch removed")
		return worker.OutcomeTriggerStop, nil
	}
	return worker.OutcomeAck, nil
}

// Work drains every backend channel without blocking and translates the
// pending notifications into filesystem events.
func (w *Watcher) Work(emit worker.Emit) error {
	for _, channel := range w.order {
		wp := w.channels[channel]
		if len(wp.backend) == backendBuffer {
			metricOverflows.Inc()
			l.Warnf("notification buffer for channel %d overflowed; events were lost", channel)
		}
	drain:
		for {
			select {
			case ev := <-wp.backend:
				if payload, ok := translate(wp, ev); ok {
					emit(message.Filesystem(payload))
				}
			default:
				break drain
			}
		}
	}
	return nil
}

// translate maps one backend notification onto the message model. Rename
// halves are not paired: each is reported as a delete when its path is
// gone and as a create when it exists.
func translate(wp *watchPoint, ev notify.EventInfo) (message.FileSystemPayload, bool) {
	path := ev.Path()
	kind := message.KindUnknown
	if info, err := os.Lstat(path); err == nil {
		if info.IsDir() {
			kind = message.KindDirectory
		} else {
			kind = message.KindFile
		}
	}

	switch ev.Event() {
	case notify.Create:
		return message.Created(wp.channel, path, kind), true
	case notify.Write:
		return message.Modified(wp.channel, path, kind), true
	case notify.Remove:
		return message.Deleted(wp.channel, path, kind), true
	case notify.Rename:
		if kind == message.KindUnknown {
			return message.Deleted(wp.channel, path, kind), true
		}
		return message.Created(wp.channel, path, kind), true
	default:
		l.Debugf("dropping unrecognized notification %v for %s", ev.Event(), path)
		return message.FileSystemPayload{}, false
	}
}

// watchPaths partitions root into the set of recursive watch
// registrations. With a split count above one, each top-level directory
// becomes its own watch point and the root itself is watched shallow,
// which spreads large subtrees across backend watches.
func watchPaths(root string, splitCount int) []string {
	recursive := filepath.Join(root, "...")
	if splitCount <= 1 {
		return []string{recursive}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return []string{recursive}
	}
	paths := []string{root}
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(root, e.Name(), "..."))
		}
	}
	if len(paths) == 1 {
		return []string{recursive}
	}
	return paths
}
