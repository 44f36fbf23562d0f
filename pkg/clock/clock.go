// Package clock abstracts wall time and one-shot timers so timer-driven
// state machines can be tested without sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package used by the notification pipeline.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// Fake is a manually advanced clock.
//
// Callbacks run synchronously inside Advance, in deadline order (ties keep
// scheduling order), on the caller's goroutine. Callbacks may schedule new
// timers; those fire within the same Advance if they fall inside the window.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

// NewFake returns a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

type fakeTimer struct {
	f       *Fake
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{f: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.compactLocked()
			f.mu.Unlock()
			return
		}
		if next.at.After(f.now) {
			f.now = next.at
		}
		next.fired = true
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

// Set jumps the clock to t without firing timers in between if t is in the
// past; moving forward behaves like Advance.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	now := f.now
	if !t.After(now) {
		f.now = t
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.Advance(t.Sub(now))
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if t.stopped || t.fired || t.at.After(target) {
			continue
		}
		due = append(due, t)
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].at.Equal(due[j].at) {
			return due[i].at.Before(due[j].at)
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (f *Fake) compactLocked() {
	out := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	for i := len(out); i < len(f.timers); i++ {
		f.timers[i] = nil
	}
	f.timers = out
}
