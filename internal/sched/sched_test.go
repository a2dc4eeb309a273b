package sched_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/centralino-ai/centralino/internal/sched"
)

func TestSchedule_Fires(t *testing.T) {
	t.Parallel()
	s := sched.New()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("call-1", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action did not fire")
	}
	if s.Pending("call-1") {
		t.Error("key should be cleared after firing")
	}
}

func TestCancel_PreventsFiring(t *testing.T) {
	t.Parallel()
	s := sched.New()
	defer s.Stop()

	var fired atomic.Bool
	s.Schedule("call-1", 30*time.Millisecond, func() { fired.Store(true) })

	if !s.Cancel("call-1") {
		t.Error("cancel should report a pending action")
	}
	if s.Cancel("call-1") {
		t.Error("second cancel should be a no-op")
	}

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled action must not fire")
	}
}

func TestSchedule_ReplacesPrevious(t *testing.T) {
	t.Parallel()
	s := sched.New()
	defer s.Stop()

	var first, second atomic.Bool
	s.Schedule("call-1", 20*time.Millisecond, func() { first.Store(true) })
	s.Schedule("call-1", 40*time.Millisecond, func() { second.Store(true) })

	time.Sleep(120 * time.Millisecond)
	if first.Load() {
		t.Error("replaced action must never fire")
	}
	if !second.Load() {
		t.Error("replacement action should fire")
	}
}

func TestSchedule_IndependentKeys(t *testing.T) {
	t.Parallel()
	s := sched.New()
	defer s.Stop()

	var a, b atomic.Bool
	s.Schedule("call-a", 10*time.Millisecond, func() { a.Store(true) })
	s.Schedule("call-b", 10*time.Millisecond, func() { b.Store(true) })
	s.Cancel("call-a")

	time.Sleep(80 * time.Millisecond)
	if a.Load() {
		t.Error("cancelled key fired")
	}
	if !b.Load() {
		t.Error("unrelated key should still fire")
	}
}

func TestStop_CancelsEverything(t *testing.T) {
	t.Parallel()
	s := sched.New()

	var fired atomic.Bool
	s.Schedule("x", 20*time.Millisecond, func() { fired.Store(true) })
	s.Stop()

	// Work scheduled after Stop is dropped.
	s.Schedule("y", time.Millisecond, func() { fired.Store(true) })

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Error("no action should fire after Stop")
	}
}
