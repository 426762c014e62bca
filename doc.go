// Package seatd runs an automated player agent against a remote game
// service. A single-consumer scheduler owns a bounded seat counter and every
// session lifecycle transition: inbound challenges are screened and queued,
// outbound challenges are created proactively when the service is idle, and
// each started game runs in its own worker until the service reports it
// finished.
//
// The packages underneath split along the runtime's seams:
//
//   - internal/sched: the admission scheduler, its seat counter, queues,
//     and the matchmaking handshake.
//   - internal/arena: the HTTP client and ndjson streams of the remote
//     service.
//   - internal/events: the account-stream pump feeding the scheduler.
//   - internal/challenge: challenge vocabulary, creation stream handling,
//     and the inbound decline policy.
//   - internal/matchmaking: opponent selection with persisted cooldowns.
//   - internal/game: per-session workers.
//   - internal/control: the operator command file.
//
// Server ties them together; cmd/seatd is the binary.
package seatd
