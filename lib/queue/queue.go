// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package queue implements the bounded message FIFOs that connect the host
// with each worker. Producers and consumers are disjoint goroutines;
// batches move across with a single splice under the queue mutex.
package queue

import (
	"errors"
	"sync"

	"github.com/sentinelfs/sentinel/lib/message"
)

// MaxPending bounds the number of undelivered messages. A producer that
// overruns it latches ErrOverflow into the queue's error slot; the host is
// expected to notice through status and drain.
const MaxPending = 16384

var ErrOverflow = errors.New("queue overflow")

// Queue is a mutex-guarded FIFO of messages with a latched error slot.
type Queue struct {
	mut       sync.Mutex
	msgs      []message.Message
	err       error
	onEnqueue func()
}

func New() *Queue {
	return &Queue{}
}

// OnEnqueue registers a hook invoked after each successful append, outside
// the queue lock. Used to signal the consumer that work is available.
func (q *Queue) OnEnqueue(fn func()) {
	q.mut.Lock()
	q.onEnqueue = fn
	q.mut.Unlock()
}

// EnqueueAll atomically appends batch. A queue whose error slot is latched
// refuses further batches.
func (q *Queue) EnqueueAll(batch []message.Message) error {
	if len(batch) == 0 {
		return nil
	}

	q.mut.Lock()
	if q.err != nil {
		err := q.err
		q.mut.Unlock()
		return err
	}
	if len(q.msgs)+len(batch) > MaxPending {
		q.err = ErrOverflow
		q.mut.Unlock()
		return ErrOverflow
	}
	q.msgs = append(q.msgs, batch...)
	fn := q.onEnqueue
	q.mut.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// Accept atomically removes and returns the entire current contents.
func (q *Queue) Accept() []message.Message {
	q.mut.Lock()
	msgs := q.msgs
	q.msgs = nil
	q.mut.Unlock()
	return msgs
}

// Size returns the number of undelivered messages.
func (q *Queue) Size() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.msgs)
}

// Err returns the latched queue error, if any.
func (q *Queue) Err() error {
	q.mut.Lock()
	defer q.mut.Unlock()
	return q.err
}
