// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package poller_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelfs/sentinel/lib/message"
	"github.com/sentinelfs/sentinel/lib/poller"
	"github.com/sentinelfs/sentinel/lib/worker"
)

const timeout = 5 * time.Second

// harness runs a polling worker and retains everything it emits, so that
// assertions can look back at the full outbound stream.
type harness struct {
	t *testing.T
	w *worker.Worker

	msgs []message.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, w: worker.New("polling", poller.New())}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.w.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		h.w.Stop()
		cancel()
		<-done
	})
	return h
}

func (h *harness) submit(cmds ...message.CommandPayload) {
	h.t.Helper()
	if err := h.w.Submit(cmds); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) pump() {
	h.msgs = append(h.msgs, h.w.Out().Accept()...)
}

func (h *harness) awaitAck(key message.CommandID) message.AckPayload {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.pump()
		for i := range h.msgs {
			if ack, ok := h.msgs[i].AsAck(); ok && ack.Key == key {
				return *ack
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("no ack for command %d within %v", key, timeout)
	return message.AckPayload{}
}

func (h *harness) awaitEvent(pred func(*message.FileSystemPayload) bool) message.FileSystemPayload {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.pump()
		for i := range h.msgs {
			if ev, ok := h.msgs[i].AsFilesystem(); ok && pred(ev) {
				return *ev
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatal("expected filesystem event did not arrive")
	return message.FileSystemPayload{}
}

func (h *harness) awaitState(want worker.State) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.w.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("worker state %v, want %v", h.w.State(), want)
}

func (h *harness) events() []message.FileSystemPayload {
	h.pump()
	var events []message.FileSystemPayload
	for i := range h.msgs {
		if ev, ok := h.msgs[i].AsFilesystem(); ok {
			events = append(events, *ev)
		}
	}
	return events
}

func mkfile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatchLifecycle(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)

	h.submit(
		message.CommandPayload{ID: 10, Action: message.CmdAdd, Root: dir, Arg: 1},
		message.CommandPayload{Action: message.CmdPollingInterval, Arg: 10},
	)
	ack := h.awaitAck(10)
	if !ack.Success || ack.Channel != 1 {
		t.Fatalf("add ack = %+v", ack)
	}
	h.awaitState(worker.StateRunning)

	// Create.
	path := filepath.Join(dir, "a.txt")
	mkfile(t, path, "hello")
	ev := h.awaitEvent(func(ev *message.FileSystemPayload) bool {
		return ev.Action == message.ActionCreated && ev.Path == path
	})
	if ev.Channel != 1 || ev.Kind != message.KindFile {
		t.Errorf("create event = %+v", ev)
	}

	// Modify.
	mkfile(t, path, "hello with considerably more bytes")
	h.awaitEvent(func(ev *message.FileSystemPayload) bool {
		return ev.Action == message.ActionModified && ev.Path == path
	})

	// Rename within one cycle coalesces.
	newPath := filepath.Join(dir, "b.txt")
	if err := os.Rename(path, newPath); err != nil {
		t.Fatal(err)
	}
	h.awaitEvent(func(ev *message.FileSystemPayload) bool {
		return ev.Action == message.ActionRenamed && ev.OldPath == path && ev.Path == newPath
	})
	for _, ev := range h.events() {
		if ev.Action == message.ActionCreated && ev.Path == newPath {
			t.Error("unmatched create alongside the rename")
		}
		if ev.Action == message.ActionDeleted && ev.Path == path {
			t.Error("unmatched delete alongside the rename")
		}
	}

	// Removing the last channel stops the worker; a later add restarts it.
	h.submit(message.CommandPayload{ID: 20, Action: message.CmdRemove, Arg: 1})
	if ack := h.awaitAck(20); !ack.Success {
		t.Fatalf("remove failed: %s", ack.Message)
	}
	h.awaitState(worker.StateStopped)

	h.submit(message.CommandPayload{ID: 30, Action: message.CmdAdd, Root: dir, Arg: 2})
	if ack := h.awaitAck(30); !ack.Success {
		t.Fatalf("re-add failed: %s", ack.Message)
	}
	h.awaitState(worker.StateRunning)
}

func TestAddThenRemoveIsQuiescent(t *testing.T) {
	dir := t.TempDir()
	mkfile(t, filepath.Join(dir, "present.txt"), "here before")
	h := newHarness(t)

	h.submit(
		message.CommandPayload{ID: 1, Action: message.CmdAdd, Root: dir, Arg: 7},
		message.CommandPayload{ID: 2, Action: message.CmdRemove, Arg: 7},
	)
	h.awaitAck(1)
	h.awaitAck(2)
	h.awaitState(worker.StateStopped)

	if events := h.events(); len(events) != 0 {
		t.Errorf("quiescent add/remove produced events: %v", events)
	}
}

func TestDuplicateChannelRefused(t *testing.T) {
	h := newHarness(t)
	dirA, dirB := t.TempDir(), t.TempDir()

	h.submit(
		message.CommandPayload{ID: 1, Action: message.CmdAdd, Root: dirA, Arg: 3},
		message.CommandPayload{ID: 2, Action: message.CmdAdd, Root: dirB, Arg: 3},
	)
	if ack := h.awaitAck(1); !ack.Success {
		t.Fatalf("first add failed: %s", ack.Message)
	}
	ack := h.awaitAck(2)
	if ack.Success {
		t.Error("second add on a live channel id succeeded")
	}
}

func TestRemoveUnknownChannel(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	h.submit(message.CommandPayload{ID: 1, Action: message.CmdAdd, Root: dir, Arg: 1})
	h.awaitAck(1)

	h.submit(message.CommandPayload{ID: 2, Action: message.CmdRemove, Arg: 99})
	if ack := h.awaitAck(2); ack.Success {
		t.Error("remove of unknown channel succeeded")
	}
	if h.w.State() != worker.StateRunning {
		t.Errorf("worker state %v after bad remove, want running", h.w.State())
	}
}

func TestAddBadRootFails(t *testing.T) {
	h := newHarness(t)

	h.submit(message.CommandPayload{ID: 1, Action: message.CmdAdd, Root: "/does/not/exist", Arg: 1})
	if ack := h.awaitAck(1); ack.Success {
		t.Error("add of a missing root succeeded")
	}
}

func TestOfflineConfigCommands(t *testing.T) {
	h := newHarness(t)

	h.submit(
		message.CommandPayload{ID: 1, Action: message.CmdPollingInterval, Arg: 25},
		message.CommandPayload{ID: 2, Action: message.CmdPollingThrottle, Arg: 500},
	)
	if ack := h.awaitAck(1); !ack.Success {
		t.Errorf("offline interval failed: %s", ack.Message)
	}
	if ack := h.awaitAck(2); !ack.Success {
		t.Errorf("offline throttle failed: %s", ack.Message)
	}
	if h.w.State() != worker.StateStopped {
		t.Errorf("config commands started the worker; state %v", h.w.State())
	}
}

func TestDrainAcked(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)

	h.submit(message.CommandPayload{ID: 1, Action: message.CmdAdd, Root: dir, Arg: 1})
	h.awaitAck(1)
	h.submit(message.CommandPayload{ID: 2, Action: message.CmdDrain})
	if ack := h.awaitAck(2); !ack.Success {
		t.Errorf("drain failed: %s", ack.Message)
	}
}
