// Package lifecycle provides timers owned by a scope that cancels them all when it ends.
package lifecycle

import (
	"errors"
	"sync"
	"time"
)

// ErrScopeClosed is returned when scheduling on a closed scope.
var ErrScopeClosed = errors.New("lifecycle: scope closed")

// Scope owns a set of keyed timers. Scheduling a key that is already pending
// replaces the pending timer. Close stops every timer and waits for
// callbacks already running, so none is still running once it returns.
// A callback must not close its own scope.
type Scope struct {
	mu      sync.Mutex
	timers  map[string]*entry
	closed  bool
	seq     uint64
	running sync.WaitGroup
}

type entry struct {
	timer *time.Timer
	seq   uint64
}

// NewScope returns an open scope.
func NewScope() *Scope {
	return &Scope{timers: make(map[string]*entry)}
}

// Schedule runs fn after d unless the key is rescheduled, cancelled, or the
// scope is closed first. A non-positive d still runs fn asynchronously.
func (s *Scope) Schedule(key string, d time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScopeClosed
	}
	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	e := &entry{seq: s.seq}
	e.timer = time.AfterFunc(d, func() { s.fire(key, e.seq, fn) })
	s.timers[key] = e
	return nil
}

func (s *Scope) fire(key string, seq uint64, fn func()) {
	s.mu.Lock()
	cur, ok := s.timers[key]
	if s.closed || !ok || cur.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()
	fn()
}

// Cancel stops the pending timer for key. It reports whether one was pending.
func (s *Scope) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending reports whether a timer for key is waiting to fire.
func (s *Scope) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Close cancels all timers, rejects later scheduling and waits for running
// callbacks. Safe to call twice.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.running.Wait()
		return
	}
	s.closed = true
	for k, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, k)
	}
	s.mu.Unlock()
	s.running.Wait()
}
