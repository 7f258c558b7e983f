package types

import "time"

// Clock supplies the current instant. Operations read it once at their
// start so the outcome stays fixed for the whole operation.
type Clock func() time.Time

// Now returns the clock's instant, falling back to the wall clock for a nil Clock
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// FixedClock returns a Clock that always reports t
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
