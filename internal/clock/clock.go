package clock

import "time"

// Clock abstracts the time functions the scheduler depends on so tests can
// drive time deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
	Since(t time.Time) time.Duration
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Since mirrors time.Since.
func (Real) Since(t time.Time) time.Duration {
	return time.Now().UTC().Sub(t)
}
