// Package schedtest provides a reconnect.Scheduler which never fires on its
// own. Tests inspect the scheduled delays and fire timers by hand.
package schedtest

import (
	"sync"
	"time"

	"github.com/baalimago/nexusrelay/internal/reconnect"
)

type Scheduler struct {
	mu      sync.Mutex
	pending []*Timer
	delays  []time.Duration
	// notify receives one value per AfterFunc call
	notify chan struct{}
}

type Timer struct {
	s       *Scheduler
	Delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func New() *Scheduler {
	return &Scheduler{notify: make(chan struct{}, 1024)}
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) reconnect.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Timer{s: s, Delay: d, f: f}
	s.pending = append(s.pending, t)
	s.delays = append(s.delays, d)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return t
}

func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.s.removeLocked(t)
	return true
}

func (s *Scheduler) removeLocked(t *Timer) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Delays of every AfterFunc call so far, in call order
func (s *Scheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// Pending amount of timers that are neither stopped nor fired
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FireNext runs the oldest pending timer synchronously, returns false if
// there was none
func (s *Scheduler) FireNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.fired = true
	s.mu.Unlock()
	t.f()
	return true
}

// WaitScheduled blocks until at least n timers have been scheduled in total,
// or the timeout passes. Returns true if the count was reached.
func (s *Scheduler) WaitScheduled(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		got := len(s.delays)
		s.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline:
			return false
		}
	}
}
