package ports

import "time"

// Clock is the injected "now" source. Engines never call time.Now directly
// so that tests can pin the billing instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface
type ClockFunc func() time.Time

// Now implements Clock
func (f ClockFunc) Now() time.Time {
	return f()
}

// FixedClock returns a Clock frozen at t
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
