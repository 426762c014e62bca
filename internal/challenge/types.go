// Package challenge carries the challenge vocabulary shared by the
// scheduler, the arena client, and the event pump: outbound requests and
// their creation stream, plus inbound challenges and the decline policy.
package challenge

import "time"

// Color is the side requested for an outbound challenge.
type Color string

// Challenge colors accepted by the arena.
const (
	ColorWhite  Color = "white"
	ColorBlack  Color = "black"
	ColorRandom Color = "random"
)

// Request describes one desired outbound challenge.
type Request struct {
	// ID correlates log lines and metrics across the creation round-trips.
	ID string
	// Opponent is the username to challenge.
	Opponent string
	// InitialTime is the clock's initial time in seconds.
	InitialTime int
	// Increment is the clock increment in seconds.
	Increment int
	Rated     bool
	Color     Color
	Variant   string
	// Timeout bounds how long the creation stream is held open waiting for
	// the opponent to respond.
	Timeout time.Duration
}

// Response is one step of an outbound creation attempt as seen by the
// scheduler. The last response of a stream is authoritative; any response
// carrying a ChallengeID names the session that will start if the attempt
// succeeds.
type Response struct {
	ChallengeID string
	Success     bool
	RateLimited bool
}

// StreamUpdate is one raw line of the remote challenge-creation stream.
// Exactly one of the condition fields is meaningful per update.
type StreamUpdate struct {
	ChallengeID string
	Accepted    bool
	Declined    bool
	Error       string
	TimedOut    bool
	RateLimited bool
}

// Inbound describes a received challenge as far as the decline policy needs.
type Inbound struct {
	ID          string
	Challenger  string
	Title       string
	Rating      int
	Rated       bool
	Variant     string
	Speed       string
	TimeControl string
	InitialTime int
	Increment   int
}

// IsBot reports whether the challenger is a bot account.
func (in Inbound) IsBot() bool {
	return in.Title == "BOT"
}

// DeclineReason is the machine-readable reason sent with a decline.
type DeclineReason string

// Decline reasons understood by the arena.
const (
	DeclineVariant     DeclineReason = "variant"
	DeclineTimeControl DeclineReason = "timeControl"
	DeclineTooFast     DeclineReason = "tooFast"
	DeclineTooSlow     DeclineReason = "tooSlow"
	DeclineRated       DeclineReason = "rated"
	DeclineCasual      DeclineReason = "casual"
	DeclineNoBot       DeclineReason = "noBot"
	DeclineOnlyBot     DeclineReason = "onlyBot"
)
