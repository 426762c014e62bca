package sched

import (
	"sync"

	"pkt.systems/seatd/internal/challenge"
)

// idQueue is an unbounded FIFO of session/challenge identifiers. Producers
// push from any goroutine; only the scheduler loop pops. Remove supports
// best-effort withdrawal of a still-queued id.
type idQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *idQueue) push(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()
}

func (q *idQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// remove deletes the first queued occurrence of id and reports whether one
// was found.
func (q *idQueue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (q *idQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// requestQueue is an unbounded FIFO of outbound challenge requests with the
// same producer/consumer contract as idQueue.
type requestQueue struct {
	mu   sync.Mutex
	reqs []challenge.Request
}

func (q *requestQueue) push(req challenge.Request) {
	q.mu.Lock()
	q.reqs = append(q.reqs, req)
	q.mu.Unlock()
}

func (q *requestQueue) pop() (challenge.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reqs) == 0 {
		return challenge.Request{}, false
	}
	req := q.reqs[0]
	q.reqs = q.reqs[1:]
	return req, true
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}
