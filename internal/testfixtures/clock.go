package testfixtures

import (
	"sync"
	"time"
)

// ReferenceTime is the instant every default fixture clock starts at: a school
// morning in a fixed zone so date boundaries are predictable.
func ReferenceTime() time.Time {
	return time.Date(2024, time.July, 15, 9, 30, 0, 0, time.UTC)
}

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to start, or to ReferenceTime when
// start is the zero value.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Today is the clock's calendar date in ledger format.
func (c *Clock) Today() string {
	return c.Now().Format("2006-01-02")
}

// Advance moves the clock forward and returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// NextDay moves the clock forward by 24 hours.
func (c *Clock) NextDay() time.Time {
	return c.Advance(24 * time.Hour)
}
