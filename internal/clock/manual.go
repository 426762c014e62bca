package clock

import (
	"sync"
	"time"
)

// Manual is a hand-cranked Clock for deterministic tests. Time only moves
// when Advance is called; timers created by After fire as it passes them.
type Manual struct {
	mu      sync.Mutex
	current time.Time
	waiters []*manualWaiter
}

type manualWaiter struct {
	due time.Time
	ch  chan time.Time
}

// NewManual returns a Manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{current: start.UTC()}
}

// Now returns the manual clock's current position.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// After returns a channel that fires once Advance has moved the clock by d.
// A non-positive d fires immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	if d <= 0 {
		ch <- m.current
		m.mu.Unlock()
		return ch
	}
	m.waiters = append(m.waiters, &manualWaiter{due: m.current.Add(d), ch: ch})
	m.mu.Unlock()
	return ch
}

// Sleep blocks until the clock has been advanced by at least d.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Since returns the elapsed manual time from t.
func (m *Manual) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the clock forward by d and delivers every timer that came
// due. It returns the new position.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	now := m.current
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.due.After(now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- now
	}
	m.waiters = kept
	m.mu.Unlock()
	return now
}

// Pending reports how many timers have not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
