// Package sched provides a keyed one-shot action scheduler. At most one
// pending action exists per key; scheduling again under the same key
// replaces the previous timer, and cancellation is idempotent.
//
// It backs the location send timeout: a pending location request fires after
// its delay unless the operator sends or cancels it first.
package sched

import (
	"sync"
	"time"
)

// Scheduler runs delayed actions keyed by string. The zero value is not
// usable; create one with [New]. Safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*entry
	stopped bool
}

type entry struct {
	timer *time.Timer
	// generation guards against a stale timer firing after the key was
	// rescheduled or cancelled between the timer expiring and the action
	// acquiring the lock.
	generation uint64
}

// Handle identifies one scheduled action.
type Handle struct {
	Key        string
	generation uint64
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{pending: make(map[string]*entry)}
}

// Schedule runs action after delay unless the key is cancelled or
// rescheduled first. A previous pending action under the same key is
// replaced and will never fire. The action runs on its own goroutine.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Handle{Key: key}
	}

	var generation uint64 = 1
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
		generation = prev.generation + 1
	}

	e := &entry{generation: generation}
	e.timer = time.AfterFunc(delay, func() {
		if !s.claim(key, generation) {
			return
		}
		action()
	})
	s.pending[key] = e

	return Handle{Key: key, generation: generation}
}

// Cancel stops the pending action for key. It reports whether an action was
// actually pending; cancelling an absent or already-fired key is a no-op.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, key)
	return true
}

// Pending reports whether key has an action scheduled.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop cancels every pending action. The scheduler accepts no further work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
	}
	s.stopped = true
}

// claim removes the key if it still refers to this generation. It returns
// false when the action was superseded and must not run.
func (s *Scheduler) claim(key string, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok || e.generation != generation {
		return false
	}
	delete(s.pending, key)
	return true
}
