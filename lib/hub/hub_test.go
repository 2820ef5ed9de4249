// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package hub_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sentinelfs/sentinel/lib/hub"
	"github.com/sentinelfs/sentinel/lib/message"
)

const timeout = 5 * time.Second

type harness struct {
	t *testing.T
	h *hub.Hub

	msgs []message.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := hub.New()
	h.Start()
	t.Cleanup(h.Stop)
	return &harness{t: t, h: h}
}

func (h *harness) submit(cmds ...message.CommandPayload) []message.CommandID {
	h.t.Helper()
	ids, err := h.h.Submit(cmds)
	if err != nil {
		h.t.Fatal(err)
	}
	return ids
}

func (h *harness) pump() {
	h.msgs = append(h.msgs, h.h.Poll()...)
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

func TestSubmitAssignsIDs(t *testing.T) {
	h := newHarness(t)

	ids := h.submit(
		message.CommandPayload{Action: message.CmdLogDisable},
		message.CommandPayload{ID: 77, Action: message.CmdPollingThrottle, Arg: 1000},
	)
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	if ids[0] == message.NoCommand {
		t.Error("id not assigned to a zero-id command")
	}
	if ids[1] != 77 {
		t.Errorf("explicit id rewritten to %d", ids[1])
	}

	for _, id := range ids {
		if ack := h.awaitAck(id); !ack.Success {
			t.Errorf("command %d failed: %s", id, ack.Message)
		}
	}
}

func TestWatchThroughHub(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)

	ready := make(chan struct{}, 16)
	h.h.SetMainCallback(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})

	ids := h.submit(
		message.CommandPayload{Action: message.CmdPollingInterval, Arg: 10},
		message.CommandPayload{Action: message.CmdAdd, Root: dir, Arg: 1, Poll: true},
	)
	if ack := h.awaitAck(ids[1]); !ack.Success {
		t.Fatalf("add failed: %s", ack.Message)
	}

	select {
	case <-ready:
	case <-time.After(timeout):
		t.Fatal("main callback never fired")
	}

	path := filepath.Join(dir, "seen.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev := h.awaitEvent(func(ev *message.FileSystemPayload) bool {
		return ev.Action == message.ActionCreated && ev.Path == path
	})
	if ev.Channel != 1 {
		t.Errorf("event channel = %d, want 1", ev.Channel)
	}

	// Remove frees the channel id for reuse.
	removeIDs := h.submit(message.CommandPayload{Action: message.CmdRemove, Arg: 1})
	if ack := h.awaitAck(removeIDs[0]); !ack.Success {
		t.Fatalf("remove failed: %s", ack.Message)
	}
	reuseIDs := h.submit(message.CommandPayload{Action: message.CmdAdd, Root: dir, Arg: 1, Poll: true})
	if ack := h.awaitAck(reuseIDs[0]); !ack.Success {
		t.Errorf("add after remove failed: %s", ack.Message)
	}
}

func TestDuplicateChannelAcrossWorkers(t *testing.T) {
	h := newHarness(t)
	dirA, dirB := t.TempDir(), t.TempDir()

	ids := h.submit(
		message.CommandPayload{Action: message.CmdAdd, Root: dirA, Arg: 9, Poll: true},
		// Same channel id routed at the native worker; the hub registry
		// refuses it before any worker sees it.
		message.CommandPayload{Action: message.CmdAdd, Root: dirB, Arg: 9},
	)
	if ack := h.awaitAck(ids[0]); !ack.Success {
		t.Fatalf("first add failed: %s", ack.Message)
	}
	ack := h.awaitAck(ids[1])
	if ack.Success {
		t.Error("duplicate channel id accepted across workers")
	}
	if !strings.Contains(ack.Message, "already in use") {
		t.Errorf("unexpected refusal message %q", ack.Message)
	}
}

func TestRemoveUnknownChannel(t *testing.T) {
	h := newHarness(t)

	ids := h.submit(message.CommandPayload{Action: message.CmdRemove, Arg: 404})
	ack := h.awaitAck(ids[0])
	if ack.Success {
		t.Error("remove of an unregistered channel succeeded")
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	ids := h.submit(message.CommandPayload{Action: message.CmdAdd, Root: dir, Arg: 1, Poll: true})
	h.awaitAck(ids[0])

	st := h.h.Status()
	if st.Polling.State != "running" {
		t.Errorf("polling state = %q, want running", st.Polling.State)
	}
	if st.Native.State != "stopped" {
		t.Errorf("native state = %q, want stopped", st.Native.State)
	}
	text := st.String()
	if !strings.Contains(text, "SENTINEL STATUS SUMMARY") {
		t.Errorf("status text lacks the header:\n%s", text)
	}
}
