// Package clock abstracts time so polling loops can be fast-forwarded in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the pollers need
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real delegates to the time package
type Real struct{}

// New returns the wall clock
func New() Clock { return Real{} }

// Now returns time.Now()
func (Real) Now() time.Time { return time.Now() }

// After returns time.After(d)
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a deterministic clock. Every After call advances virtual time by d
// and fires immediately, so a loop that waits N intervals runs without
// sleeping while still observing N*d of elapsed time.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewFake creates a fake clock starting at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After advances virtual time by d and returns an already-fired channel
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.waits = append(f.waits, d)
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves virtual time forward without a wait being recorded
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Waits returns every duration passed to After, in order
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}
