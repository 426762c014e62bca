package sched

import "sync"

// SeatCounter tracks how many seats (reserved or running sessions) are in
// use against a fixed maximum. It carries no identity; which sessions occupy
// the seats is the scheduler's business via its reserved set and game map.
// All methods are safe for concurrent use.
type SeatCounter struct {
	mu    sync.Mutex
	value int
	max   int
}

// NewSeatCounter returns a counter capped at max. A max below 1 is raised
// to 1.
func NewSeatCounter(max int) *SeatCounter {
	if max < 1 {
		max = 1
	}
	return &SeatCounter{max: max}
}

// Increment takes a seat. It reports false, leaving the count unchanged,
// when every seat is already taken.
func (c *SeatCounter) Increment() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value >= c.max {
		return false
	}
	c.value++
	return true
}

// Decrement releases a seat. Releasing a seat that was never taken means
// the scheduler's model has diverged from reality, which is fatal.
func (c *SeatCounter) Decrement() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value <= 0 {
		panic("sched: seat counter decremented below zero")
	}
	c.value--
}

// IsAtOrOver reports whether the count plus extra pending reservations
// reaches the maximum. The admission predicate.
func (c *SeatCounter) IsAtOrOver(extra int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value+extra >= c.max
}

// Value returns the current count.
func (c *SeatCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Max returns the configured maximum.
func (c *SeatCounter) Max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}
