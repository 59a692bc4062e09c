package timex

import (
	"sync"
	"time"
)

// Precision is the resolution of every certificate timestamp.
const Precision = time.Microsecond

// TimeProvider is the device clock used to stamp certificates.
type TimeProvider interface {
	// Now returns the current time, UTC, truncated to Precision. It never
	// returns less than an earlier Now or GreaterTimestamp.
	Now() time.Time
	// GreaterTimestamp returns a timestamp strictly greater than bound and
	// than every timestamp it returned before.
	GreaterTimestamp(bound time.Time) time.Time
}

// Clock is the TimeProvider used by devices.
type Clock struct {
	mu        sync.Mutex
	now       func() time.Time
	maxIssued time.Time
}

// ClockOption customizes a Clock.
type ClockOption func(*Clock)

// WithNowFunc replaces the wall clock, typically with a frozen or scripted
// time in tests.
func WithNowFunc(now func() time.Time) ClockOption {
	return func(c *Clock) {
		c.now = now
	}
}

func NewClock(opts ...ClockOption) *Clock {
	c := &Clock{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Now never goes backwards: it returns the later of the wall clock and the
// newest timestamp already handed out.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.observe()
}

func (c *Clock) GreaterTimestamp(bound time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.observe()
	if floor := Normalize(bound).Add(Precision); ts.Before(floor) {
		ts = floor
	}
	if !ts.After(c.maxIssued) {
		ts = c.maxIssued.Add(Precision)
	}
	c.maxIssued = ts
	return ts
}

// observe must be called with mu held.
func (c *Clock) observe() time.Time {
	ts := Normalize(c.now())
	if ts.Before(c.maxIssued) {
		return c.maxIssued
	}
	c.maxIssued = ts
	return ts
}

// Normalize brings t to the canonical certificate form.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}
