// Package clock provides the server-side time source used by the request
// engine. Window and cooldown computations must go through a Clock; request
// bodies never supply "now".
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the system time in the configured location.
type Real struct {
	Location *time.Location
}

// Now returns the current system time.
func (r Real) Now() time.Time {
	if r.Location == nil {
		return time.Now()
	}
	return time.Now().In(r.Location)
}

// NewReal returns a Clock backed by the system time in loc.
func NewReal(loc *time.Location) Clock {
	return Real{Location: loc}
}

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = t.Location()
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return StartOfDay(a, loc).Equal(StartOfDay(b, loc))
}

// At returns the instant hh:mm on t's calendar day in loc.
func At(t time.Time, hour, minute int, loc *time.Location) time.Time {
	d := StartOfDay(t, loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
}
