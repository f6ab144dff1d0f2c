package billing

import "time"

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock supplies "today" and "now" to every engine operation. There is no
// ambient time access anywhere in the engines: the clock is a constructor
// dependency so that every date decision is reproducible under test with a
// FixedClock.
type Clock interface {
	// Today returns the current calendar date, midnight-truncated.
	Today() Date

	// Now returns the current instant, for audit timestamps.
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Today() Date    { return DateOf(time.Now().UTC()) }
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock pins time to a single date. Test use only.
type FixedClock struct {
	Date Date
}

func NewFixedClock(year int, month time.Month, day int) FixedClock {
	return FixedClock{Date: NewDate(year, month, day)}
}

func (c FixedClock) Today() Date    { return c.Date }
func (c FixedClock) Now() time.Time { return c.Date.Time() }
