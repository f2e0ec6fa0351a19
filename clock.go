package auth

import "time"

// Clock is the time source used for every expiry decision
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

// Now implements Clock
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock in UTC
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

func normalizeClock(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
