// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	ch := fake.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-ch:
		want := time.Unix(1005, 0)
		if !fired.Equal(want) {
			t.Errorf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterFuncOrderAndStop(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	var order []string
	fake.AfterFunc(2*time.Second, func() { order = append(order, "second") })
	fake.AfterFunc(time.Second, func() { order = append(order, "first") })
	stopped := fake.AfterFunc(3*time.Second, func() { order = append(order, "never") })

	if !stopped.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}
	if stopped.Stop() {
		t.Fatal("second Stop returned true")
	}

	fake.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("callback order = %v, want [first second]", order)
	}
}

func TestFakeAfterFuncImmediateWhenNonPositive(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	ran := false
	fake.AfterFunc(0, func() { ran = true })
	if !ran {
		t.Fatal("AfterFunc(0) did not run synchronously")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	var ticks int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ticker.C {
			ticks++
			if ticks == 3 {
				return
			}
		}
	}()

	// The tick channel has capacity 1, so advance one interval at a
	// time and let the consumer drain between advances.
	for i := 0; i < 3; i++ {
		fake.Advance(time.Second)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker delivered %d ticks, want 3", ticks)
	}
}

func TestFakeBlockUntil(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	fired := make(chan time.Time, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		ch := fake.After(time.Second)
		fired <- <-ch
	}()

	fake.BlockUntil(1)
	fake.Advance(time.Second)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer registered via BlockUntil never fired")
	}
}

func TestFakeCallbackMayArmTimers(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	var chained bool
	fake.AfterFunc(time.Second, func() {
		fake.AfterFunc(time.Second, func() { chained = true })
	})

	fake.Advance(3 * time.Second)
	if !chained {
		t.Fatal("timer armed from a callback did not fire within the same Advance window")
	}
}
