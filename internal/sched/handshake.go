package sched

import "sync"

// Outcome is the final result of a proactive challenge-creation attempt.
type Outcome struct {
	Success     bool
	RateLimited bool
}

// Handshake bridges one background challenge-creation task and the scheduler
// loop. The task publishes an early challenge id as soon as the remote
// service reports one, and a final outcome when the attempt completes; the
// scheduler blocks on both, in that order. Each cell is write-once: later
// writes are ignored. A Handshake is single-use; create a fresh one per
// attempt.
type Handshake struct {
	idOnce sync.Once
	idCh   chan struct{}
	id     string
	idSet  bool

	finOnce sync.Once
	finCh   chan struct{}
	outcome Outcome
}

// NewHandshake returns a Handshake with both cells unresolved.
func NewHandshake() *Handshake {
	return &Handshake{
		idCh:  make(chan struct{}),
		finCh: make(chan struct{}),
	}
}

// SetChallengeID resolves the early-id cell. An empty id resolves it to
// "none". Only the first call has any effect.
func (h *Handshake) SetChallengeID(id string) {
	h.idOnce.Do(func() {
		h.id = id
		h.idSet = id != ""
		close(h.idCh)
	})
}

// Finish resolves the final-outcome cell. If the early-id cell is still
// unresolved it is resolved to "none" first, so ChallengeID never outlives
// Finish. Only the first call has any effect.
func (h *Handshake) Finish(o Outcome) {
	h.finOnce.Do(func() {
		h.idOnce.Do(func() {
			close(h.idCh)
		})
		h.outcome = o
		close(h.finCh)
	})
}

// ChallengeID blocks until the early-id cell resolves and returns the id,
// with ok=false when it resolved to "none".
func (h *Handshake) ChallengeID() (id string, ok bool) {
	<-h.idCh
	return h.id, h.idSet
}

// Outcome blocks until Finish has been called and returns the final result.
func (h *Handshake) Outcome() Outcome {
	<-h.finCh
	return h.outcome
}
