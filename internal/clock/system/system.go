// Package system provides crawler.Clock implementations.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always reports the same instant. Run directories and synthesized
// names built from it are reproducible.
type FixedClock struct {
	at time.Time
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) FixedClock {
	return FixedClock{at: t.UTC()}
}

// Now returns the frozen instant.
func (c FixedClock) Now() time.Time {
	return c.at
}
