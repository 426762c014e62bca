package challenge

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/svcfields"
)

// CreationClient is the slice of the arena client the challenger needs.
type CreationClient interface {
	// CreateChallenge opens the remote creation stream and yields raw
	// updates until the stream ends. The channel is closed when the stream
	// is exhausted; the stream is always finite.
	CreateChallenge(ctx context.Context, req Request) <-chan StreamUpdate
	// CancelChallenge withdraws a challenge that timed out unanswered.
	CancelChallenge(ctx context.Context, challengeID string) error
}

// Challenger turns the arena's raw creation stream into the response
// sequence the scheduler consumes.
type Challenger struct {
	client CreationClient
	logger pslog.Logger
}

// NewChallenger wires a challenger to the arena client.
func NewChallenger(client CreationClient, logger pslog.Logger) *Challenger {
	return &Challenger{
		client: client,
		logger: svcfields.WithSubsystem(logger, "challenge.create"),
	}
}

// Create performs one creation attempt. Responses are produced lazily on the
// returned channel, which is closed once the remote stream ends; the last
// response is authoritative.
func (c *Challenger) Create(ctx context.Context, req Request) <-chan Response {
	out := make(chan Response)
	go func() {
		defer close(out)
		challengeID := ""
		for update := range c.client.CreateChallenge(ctx, req) {
			switch {
			case update.ChallengeID != "":
				challengeID = update.ChallengeID
				out <- Response{ChallengeID: challengeID}
			case update.Accepted:
				out <- Response{Success: true}
			case update.Error != "":
				c.logger.Warn("seatd.challenge.create.error",
					"request_id", req.ID,
					"opponent", req.Opponent,
					"error", update.Error)
				out <- Response{}
			case update.Declined:
				c.logger.Info("seatd.challenge.create.declined",
					"request_id", req.ID,
					"opponent", req.Opponent)
				out <- Response{}
			case update.TimedOut:
				c.logger.Info("seatd.challenge.create.timeout",
					"request_id", req.ID,
					"opponent", req.Opponent)
				if challengeID == "" {
					c.logger.Warn("seatd.challenge.create.cancel_skipped",
						"request_id", req.ID,
						"reason", "no challenge id observed before timeout")
				} else if err := c.client.CancelChallenge(ctx, challengeID); err != nil {
					c.logger.Warn("seatd.challenge.create.cancel_failed",
						"request_id", req.ID,
						"challenge_id", challengeID,
						"error", err)
				}
				out <- Response{}
			case update.RateLimited:
				c.logger.Warn("seatd.challenge.create.rate_limited",
					"request_id", req.ID,
					"opponent", req.Opponent)
				out <- Response{RateLimited: true}
			}
		}
	}()
	return out
}
