// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func TestFakeNowStandsStill(t *testing.T) {
	c := Fake(testEpoch)
	if !c.Now().Equal(testEpoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), testEpoch)
	}
	c.Advance(42 * time.Second)
	if !c.Now().Equal(testEpoch.Add(42 * time.Second)) {
		t.Fatalf("Now() after Advance = %v", c.Now())
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(testEpoch)
	ch := c.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("channel fired before Advance")
	default:
	}

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("channel fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(testEpoch.Add(5 * time.Second)) {
			t.Fatalf("fired with %v", got)
		}
	default:
		t.Fatal("channel did not fire at deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(testEpoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeAfterFuncRunsInDeadlineOrder(t *testing.T) {
	c := Fake(testEpoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks ran in order %v", order)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(testEpoch)
	var fired atomic.Bool
	timer := c.AfterFunc(time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop() = false for pending timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true")
	}

	c.Advance(10 * time.Second)
	if fired.Load() {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeStopAfterFiringReturnsFalse(t *testing.T) {
	c := Fake(testEpoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(2 * time.Second)
	if timer.Stop() {
		t.Fatal("Stop() = true after timer fired")
	}
}

func TestFakeCallbackRegisteringNewTimer(t *testing.T) {
	c := Fake(testEpoch)
	var second atomic.Bool
	c.AfterFunc(time.Second, func() {
		// Deadline remains inside the same Advance window.
		c.AfterFunc(time.Second, func() { second.Store(true) })
	})

	c.Advance(3 * time.Second)
	if !second.Load() {
		t.Fatal("chained timer did not fire within one Advance")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	<-done
	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", c.PendingCount())
	}
}
