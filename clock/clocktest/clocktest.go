// Package clocktest provides a manually advanced clock.Clock for tests.
package clocktest

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/recordsportal/clock"
)

var _ clock.Clock = (*Fake)(nil)

// Fake is a clock whose time only moves when Advance or Set is called.
// Timers and tickers created from it fire synchronously inside Advance,
// delivering on buffered channels of capacity one; a tick that finds the
// channel full is dropped, matching time.Ticker.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters map[*waiter]struct{}
	changed chan struct{}
}

// New returns a Fake set to start.
func New(start time.Time) *Fake {
	return &Fake{
		now:     start,
		waiters: make(map[*waiter]struct{}),
		changed: make(chan struct{}),
	}
}

type waiter struct {
	f        *Fake
	ch       chan time.Time
	deadline time.Time
	period   time.Duration
	active   bool
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTimer creates a timer that fires once the fake reaches now+d.
func (f *Fake) NewTimer(d time.Duration) clock.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &waiter{f: f, ch: make(chan time.Time, 1), deadline: f.now.Add(d), active: true}
	f.waiters[w] = struct{}{}
	f.notifyLocked()
	return &fakeTimer{w: w}
}

// NewTicker creates a ticker with period d.
func (f *Fake) NewTicker(d time.Duration) clock.Ticker {
	if d <= 0 {
		panic("clocktest: non-positive ticker period")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &waiter{f: f, ch: make(chan time.Time, 1), deadline: f.now.Add(d), period: d, active: true}
	f.waiters[w] = struct{}{}
	f.notifyLocked()
	return &fakeTicker{w: w}
}

// Advance moves the clock forward by d, firing every timer and ticker whose
// deadline falls inside the window in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	for {
		next := f.earliestLocked(target)
		if next == nil {
			break
		}
		f.now = next.deadline
		select {
		case next.ch <- f.now:
		default:
		}
		if next.period > 0 {
			next.deadline = next.deadline.Add(next.period)
		} else {
			next.active = false
		}
	}
	f.now = target
	f.notifyLocked()
}

// Set jumps to t without firing anything. It exists to simulate wall clock
// steps; use Advance to move time forward normally.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Waiters reports how many timers and tickers are currently armed.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

// BlockUntil waits until at least n timers or tickers are armed, or ctx ends.
func (f *Fake) BlockUntil(ctx context.Context, n int) error {
	for {
		f.mu.Lock()
		if f.activeLocked() >= n {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (f *Fake) earliestLocked(limit time.Time) *waiter {
	var best *waiter
	for w := range f.waiters {
		if !w.active || w.deadline.After(limit) {
			continue
		}
		if best == nil || w.deadline.Before(best.deadline) {
			best = w
		}
	}
	return best
}

func (f *Fake) activeLocked() int {
	n := 0
	for w := range f.waiters {
		if w.active {
			n++
		}
	}
	return n
}

func (f *Fake) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (w *waiter) drainLocked() {
	select {
	case <-w.ch:
	default:
	}
}

type fakeTimer struct{ w *waiter }

func (t *fakeTimer) C() <-chan time.Time { return t.w.ch }

func (t *fakeTimer) Stop() bool {
	f := t.w.f
	f.mu.Lock()
	defer f.mu.Unlock()
	was := t.w.active
	t.w.active = false
	t.w.drainLocked()
	f.notifyLocked()
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	f := t.w.f
	f.mu.Lock()
	defer f.mu.Unlock()
	was := t.w.active
	t.w.drainLocked()
	t.w.deadline = f.now.Add(d)
	t.w.active = true
	f.notifyLocked()
	return was
}

type fakeTicker struct{ w *waiter }

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }

func (t *fakeTicker) Stop() {
	f := t.w.f
	f.mu.Lock()
	defer f.mu.Unlock()
	t.w.active = false
	delete(f.waiters, t.w)
	f.notifyLocked()
}
