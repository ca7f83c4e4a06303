// Package clock provides the monotonic time source used to pace the A2DP sink.
//
// Time is expressed as a time.Duration since an arbitrary origin so pacing
// arithmetic never depends on wall-clock adjustments.
package clock

import (
	"sync"
	"time"
)

// Clock is an interface for reading monotonic time.
// This allows injecting a manual clock for deterministic testing.
type Clock interface {
	// Now returns the time elapsed since the clock's origin.
	Now() time.Duration
}

// Monotonic implements Clock using the runtime's monotonic clock.
type Monotonic struct {
	origin time.Time
}

// NewMonotonic creates a monotonic clock whose origin is the moment of the call.
func NewMonotonic() *Monotonic {
	return &Monotonic{origin: time.Now()}
}

// Now returns the monotonic time elapsed since the origin.
func (m *Monotonic) Now() time.Duration {
	return time.Since(m.origin)
}

// defaultClock is the package-level default clock.
var defaultClock Clock = NewMonotonic()

// Default returns the package-level default clock.
func Default() Clock {
	return defaultClock
}

// Or returns c if non-nil, otherwise the package-level default.
func Or(c Clock) Clock {
	if c != nil {
		return c
	}
	return defaultClock
}

// Manual is a Clock that only moves when told to.
// It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual creates a manual clock reading start.
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed so tests can
// model a start time recorded in the future.
func (m *Manual) Set(t time.Duration) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}
