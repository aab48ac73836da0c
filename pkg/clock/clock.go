// Package clock provides an injectable time source so backoff and health
// window logic can be tested deterministically without wall-clock waits.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now and timer creation. Production code uses Real;
// tests use a Fake advanced manually.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a stoppable timer for d.
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of time.Timer behavior the framework needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Real is a Clock backed by the time package.
type Real struct{}

// New returns the real clock.
func New() Clock {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// After wraps time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTimer wraps time.NewTimer.
func (Real) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) C() <-chan time.Time {
	return rt.t.C
}

func (rt realTimer) Stop() bool {
	return rt.t.Stop()
}

// Fake is a manually advanced Clock for tests. Timers created from it fire
// when Advance moves the fake time past their deadline.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the fake time advances by d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

// NewTimer returns a timer that fires when the fake time passes now+d.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTimer{
		clock:    f,
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		ft.fired = true
		ft.ch <- f.now
	} else {
		f.timers = append(f.timers, ft)
	}
	return ft
}

// Advance moves the fake time forward and fires any timers whose deadline
// has passed, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var remaining []*fakeTimer
	var toFire []*fakeTimer
	for _, ft := range f.timers {
		if ft.stopped {
			continue
		}
		if !ft.deadline.After(now) {
			toFire = append(toFire, ft)
		} else {
			remaining = append(remaining, ft)
		}
	}
	f.timers = remaining
	f.mu.Unlock()

	for _, ft := range toFire {
		ft.fired = true
		select {
		case ft.ch <- now:
		default:
		}
	}
}

// PendingTimers returns the number of timers waiting to fire.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, ft := range f.timers {
		if !ft.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	ch       chan time.Time
	fired    bool
	stopped  bool
}

func (ft *fakeTimer) C() <-chan time.Time {
	return ft.ch
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()

	wasActive := !ft.fired && !ft.stopped
	ft.stopped = true
	return wasActive
}
