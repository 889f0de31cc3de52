// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package workqueue serializes the SDK's mutations. Every store write
// and session transition is submitted here as a closure and executed
// by a single consumer goroutine in submission order, so the event log
// and session state never see interleaved read-modify-write cycles —
// without a lock around the store or a transactional schema.
package workqueue

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultCapacity bounds the backlog when the caller does not choose
// one. Producers whose submission would exceed it are refused rather
// than blocked; a full queue means the consumer is badly wedged and
// dropping telemetry is the correct failure mode for an SDK embedded
// in someone else's process.
const DefaultCapacity = 1024

type task struct {
	name string
	run  func() error
}

// Queue is a bounded multi-producer, single-consumer FIFO of named
// work closures. All methods are safe for concurrent use.
type Queue struct {
	tasks  chan task
	done   chan struct{}
	logger *slog.Logger

	mu        sync.RWMutex
	completed bool
}

// New creates a Queue and starts its consumer goroutine. capacity <= 0
// selects DefaultCapacity.
func New(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	q := &Queue{
		tasks:  make(chan task, capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.consume()
	return q
}

// TrySubmit enqueues fn for execution. Returns false — without
// blocking — if the queue is full or already completed. The name
// appears in logs when the unit fails.
func (q *Queue) TrySubmit(name string, fn func() error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.completed {
		return false
	}

	select {
	case q.tasks <- task{name: name, run: fn}:
		return true
	default:
		return false
	}
}

// Complete stops intake. The consumer finishes the unit in flight,
// drains the backlog, then exits. Safe to call more than once.
func (q *Queue) Complete() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.completed {
		return
	}
	q.completed = true
	close(q.tasks)
}

// Wait blocks until the consumer has drained the backlog and exited.
// Call after Complete.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) consume() {
	defer close(q.done)
	for t := range q.tasks {
		q.execute(t)
	}
}

// execute runs one unit. A returned error or a panic is logged and
// confined here; the consumer loop always moves on to the next unit.
func (q *Queue) execute(t task) {
	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error("work unit panicked",
				"task", t.name,
				"panic", fmt.Sprintf("%v", recovered),
			)
		}
	}()

	if err := t.run(); err != nil {
		q.logger.Error("work unit failed",
			"task", t.name,
			"error", err,
		)
	}
}
