// Package schedule provides the two timing primitives the protocol core
// needs: a periodic re-announcement task, and one-shot delayed callbacks
// (random response delay, MX timeout), both cancellable at node close.
package schedule

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler tracks outstanding one-shot callbacks so they can all be
// cancelled together at Close, and hands out periodic tasks that cancel
// independently.
type Scheduler struct {
	mu      sync.Mutex
	oneShot map[*time.Timer]struct{}
	closed  atomic.Bool
}

// New returns a ready Scheduler.
func New() *Scheduler {
	return &Scheduler{oneShot: make(map[*time.Timer]struct{})}
}

// After schedules fn to run once, after d. If the Scheduler has already
// been closed, After is a no-op (returns a timer that never fires).
func (s *Scheduler) After(d time.Duration, fn func()) *time.Timer {
	if s.closed.Load() {
		t := time.NewTimer(d)
		t.Stop()
		return t
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.oneShot, timer)
		s.mu.Unlock()
		fn()
	})

	s.mu.Lock()
	s.oneShot[timer] = struct{}{}
	s.mu.Unlock()
	return timer
}

// Periodic is a re-announce-style task: it fires once after first, then
// every period, until Stop is called. Scheduler.Close does not stop it.
type Periodic struct {
	timer   *time.Timer
	period  time.Duration
	fn      func()
	stopped atomic.Bool
}

// StartPeriodic schedules fn to run once after first, then every period,
// until the returned Periodic is stopped. A Periodic started on an
// already-closed Scheduler never fires; closing the Scheduler later does
// not stop one that is already running.
func (s *Scheduler) StartPeriodic(first, period time.Duration, fn func()) *Periodic {
	p := &Periodic{period: period, fn: fn}
	if s.closed.Load() {
		p.stopped.Store(true)
		return p
	}
	p.timer = time.AfterFunc(first, p.tick)
	return p
}

func (p *Periodic) tick() {
	if p.stopped.Load() {
		return
	}
	p.fn()
	if p.stopped.Load() {
		return
	}
	p.timer.Reset(p.period)
}

// Stop cancels the periodic task. Safe to call more than once.
func (p *Periodic) Stop() {
	p.stopped.Store(true)
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Close cancels every outstanding one-shot callback; After calls made
// once Close has run schedule nothing. Periodic tasks are not affected
// (see Periodic.Stop). It is best-effort per spec.md §5.
func (s *Scheduler) Close() {
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.oneShot {
		t.Stop()
	}
	s.oneShot = make(map[*time.Timer]struct{})
}
