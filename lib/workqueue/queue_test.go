// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package workqueue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestExecutesInSubmissionOrder(t *testing.T) {
	q := New(0, nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		if !q.TrySubmit(fmt.Sprintf("unit-%d", i), func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}) {
			t.Fatalf("TrySubmit(%d) refused", i)
		}
	}

	q.Complete()
	q.Wait()

	if len(order) != 100 {
		t.Fatalf("executed %d units, want 100", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("position %d executed unit %d", i, got)
		}
	}
}

func TestRefusesWhenFull(t *testing.T) {
	q := New(2, nil)

	// Block the consumer so submissions pile up.
	release := make(chan struct{})
	if !q.TrySubmit("blocker", func() error {
		<-release
		return nil
	}) {
		t.Fatal("blocker refused")
	}

	// Fill the channel. The consumer may have dequeued the blocker
	// already, so up to capacity submissions succeed; eventually one
	// must be refused.
	accepted := 0
	for i := 0; i < 10; i++ {
		if q.TrySubmit("filler", func() error { return nil }) {
			accepted++
		}
	}
	if accepted >= 10 {
		t.Fatal("queue never refused past capacity")
	}

	close(release)
	q.Complete()
	q.Wait()
}

func TestRefusesAfterComplete(t *testing.T) {
	q := New(0, nil)
	q.Complete()

	if q.TrySubmit("late", func() error { return nil }) {
		t.Fatal("TrySubmit accepted after Complete")
	}
	q.Wait()
}

func TestCompleteDrainsBacklog(t *testing.T) {
	q := New(0, nil)

	var executed atomic.Int64
	for i := 0; i < 50; i++ {
		if !q.TrySubmit("unit", func() error {
			executed.Add(1)
			return nil
		}) {
			t.Fatalf("TrySubmit(%d) refused", i)
		}
	}

	q.Complete()
	q.Wait()

	if executed.Load() != 50 {
		t.Fatalf("executed %d, want 50", executed.Load())
	}
}

func TestCompleteTwiceIsSafe(t *testing.T) {
	q := New(0, nil)
	q.Complete()
	q.Complete()
	q.Wait()
}

func TestUnitErrorDoesNotStopConsumer(t *testing.T) {
	q := New(0, nil)

	var after atomic.Bool
	q.TrySubmit("failing", func() error {
		return errors.New("synthetic failure")
	})
	q.TrySubmit("following", func() error {
		after.Store(true)
		return nil
	})

	q.Complete()
	q.Wait()

	if !after.Load() {
		t.Fatal("unit after a failing one did not run")
	}
}

func TestUnitPanicDoesNotStopConsumer(t *testing.T) {
	q := New(0, nil)

	var after atomic.Bool
	q.TrySubmit("panicking", func() error {
		panic("synthetic panic")
	})
	q.TrySubmit("following", func() error {
		after.Store(true)
		return nil
	})

	q.Complete()
	q.Wait()

	if !after.Load() {
		t.Fatal("unit after a panicking one did not run")
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New(0, nil)

	var executed atomic.Int64
	var wg sync.WaitGroup
	for producer := 0; producer < 3; producer++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !q.TrySubmit("concurrent", func() error {
				executed.Add(1)
				return nil
			}) {
				t.Error("concurrent TrySubmit refused")
			}
		}()
	}
	wg.Wait()

	q.Complete()
	q.Wait()

	// Exactly one execution per submission: no loss, no duplication.
	if executed.Load() != 3 {
		t.Fatalf("executed %d, want 3", executed.Load())
	}
}
