package memory

import "time"

// Clock abstracts wall time so decay and relevance math can run under a
// fake clock in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	now time.Time
}

// NewFakeClock starts a fake clock at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (clock *FakeClock) Now() time.Time {
	return clock.now
}

// Advance moves the clock forward.
func (clock *FakeClock) Advance(d time.Duration) {
	clock.now = clock.now.Add(d)
}

// Set jumps the clock to an instant.
func (clock *FakeClock) Set(now time.Time) {
	clock.now = now
}
