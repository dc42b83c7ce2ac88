// Package taskqueue provides the single-consumer deferred-callback FIFO
// drained once per reactor tick. It lets a readiness callback schedule
// follow-up work ("retry this backend next tick", "close this session once
// the current write drains") without re-entering the reactor's Poll call.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package taskqueue

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is a unit of deferred work.
type Task func()

// Queue is a FIFO of deferred tasks. Push is safe to call from any
// goroutine (a backend's connect timer, for instance); Drain must only be
// called from the single reactor-owning goroutine.
type Queue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// Push enqueues a task to run on the next Drain.
func (tq *Queue) Push(t Task) {
	tq.mu.Lock()
	tq.q.Add(t)
	tq.mu.Unlock()
}

// Len reports the number of pending tasks.
func (tq *Queue) Len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length()
}

// Drain runs every task currently queued, in FIFO order, and returns the
// count executed. Tasks enqueued by a running task are not executed until
// the next Drain call, bounding a single tick's work to a snapshot of the
// queue at the moment Drain was entered.
func (tq *Queue) Drain() int {
	tq.mu.Lock()
	n := tq.q.Length()
	batch := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, tq.q.Remove().(Task))
	}
	tq.mu.Unlock()

	for _, t := range batch {
		t()
	}
	return len(batch)
}
