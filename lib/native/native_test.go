// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package native_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sentinelfs/sentinel/lib/message"
	"github.com/sentinelfs/sentinel/lib/native"
	"github.com/sentinelfs/sentinel/lib/worker"
)

const timeout = 5 * time.Second

func newWorker(t *testing.T) *worker.Worker {
	t.Helper()
	w := worker.New("native", native.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		w.Stop()
		cancel()
		<-done
	})
	return w
}

func awaitAck(t *testing.T, w *worker.Worker, msgs *[]message.Message, key message.CommandID) message.AckPayload {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		*msgs = append(*msgs, w.Out().Accept()...)
		for i := range *msgs {
			if ack, ok := (*msgs)[i].AsAck(); ok && ack.Key == key {
				return *ack
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no ack for command %d", key)
	return message.AckPayload{}
}

func TestNativeWatchLifecycle(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
	default:
		t.Skipf("no native notification backend on %s", runtime.GOOS)
	}

	dir := t.TempDir()
	w := newWorker(t)
	var msgs []message.Message

	if err := w.Submit([]message.CommandPayload{{ID: 5, Action: message.CmdAdd, Root: dir, Arg: 2}}); err != nil {
		t.Fatal(err)
	}
	ack := awaitAck(t, w, &msgs, 5)
	if !ack.Success {
		t.Skipf("native watch unavailable here: %s", ack.Message)
	}

	path := filepath.Join(dir, "seen.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(timeout)
	found := false
	for time.Now().Before(deadline) && !found {
		msgs = append(msgs, w.Out().Accept()...)
		for i := range msgs {
			if ev, ok := msgs[i].AsFilesystem(); ok && ev.Path == path && ev.Channel == 2 {
				found = true
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !found {
		t.Fatal("no notification for the created file")
	}

	if err := w.Submit([]message.CommandPayload{{ID: 6, Action: message.CmdRemove, Arg: 2}}); err != nil {
		t.Fatal(err)
	}
	if ack := awaitAck(t, w, &msgs, 6); !ack.Success {
		t.Fatalf("remove failed: %s", ack.Message)
	}

	deadline = time.Now().Add(timeout)
	for time.Now().Before(deadline) && w.State() != worker.StateStopped {
		time.Sleep(2 * time.Millisecond)
	}
	if w.State() != worker.StateStopped {
		t.Errorf("worker state %v after last remove, want stopped", w.State())
	}
}

func TestPollingKnobsUnsupported(t *testing.T) {
	w := newWorker(t)
	var msgs []message.Message

	if err := w.Submit([]message.CommandPayload{{ID: 3, Action: message.CmdPollingInterval, Arg: 10}}); err != nil {
		t.Fatal(err)
	}
	if ack := awaitAck(t, w, &msgs, 3); ack.Success {
		t.Error("polling knob accepted by the native worker")
	}
}
