// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package queue

import (
	"errors"
	"testing"

	"github.com/sentinelfs/sentinel/lib/message"
)

func batchOf(n int) []message.Message {
	batch := make([]message.Message, n)
	for i := range batch {
		batch[i] = message.Filesystem(message.Created(1, "/w/x", message.KindFile))
	}
	return batch
}

func TestEnqueueAccept(t *testing.T) {
	q := New()

	if err := q.EnqueueAll(batchOf(3)); err != nil {
		t.Fatal(err)
	}
	if err := q.EnqueueAll(batchOf(2)); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 5 {
		t.Errorf("size = %d, want 5", q.Size())
	}

	got := q.Accept()
	if len(got) != 5 {
		t.Errorf("accepted %d messages, want 5", len(got))
	}
	if q.Size() != 0 {
		t.Errorf("size after accept = %d, want 0", q.Size())
	}
	if got = q.Accept(); got != nil {
		t.Errorf("second accept returned %d messages", len(got))
	}
}

func TestOverflowLatchesError(t *testing.T) {
	q := New()

	if err := q.EnqueueAll(batchOf(MaxPending)); err != nil {
		t.Fatal(err)
	}
	if err := q.EnqueueAll(batchOf(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("overflow enqueue returned %v, want ErrOverflow", err)
	}
	if !errors.Is(q.Err(), ErrOverflow) {
		t.Errorf("queue error = %v, want latched ErrOverflow", q.Err())
	}

	// The latch persists even after the queue drains.
	q.Accept()
	if err := q.EnqueueAll(batchOf(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("enqueue after drain returned %v, want ErrOverflow", err)
	}
}

func TestOnEnqueueHook(t *testing.T) {
	q := New()
	fired := 0
	q.OnEnqueue(func() { fired++ })

	q.EnqueueAll(batchOf(2))
	q.EnqueueAll(nil)
	q.EnqueueAll(batchOf(1))

	if fired != 2 {
		t.Errorf("hook fired %d times, want 2", fired)
	}
}
