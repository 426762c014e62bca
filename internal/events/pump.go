// Package events consumes the account event stream and feeds the scheduler:
// inbound challenges are screened against the decline policy, lifecycle
// notifications are forwarded as-is. The pump reconnects on stream loss and
// only stops when its context is cancelled.
package events

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/arena"
	"pkt.systems/seatd/internal/challenge"
	"pkt.systems/seatd/internal/clock"
	"pkt.systems/seatd/internal/svcfields"
)

// DefaultReconnectDelay spaces out stream reconnection attempts.
const DefaultReconnectDelay = 2 * time.Second

// Scheduler is the slice of the session scheduler the pump drives.
type Scheduler interface {
	AddChallenge(challengeID string)
	RemoveChallenge(challengeID string)
	OnGameStarted(gameID string)
	OnGameFinished(gameID string)
}

// Stream opens the account event stream. The channel closes when the
// connection ends; the pump reconnects.
type Stream interface {
	StreamEvents(ctx context.Context) (<-chan arena.Event, error)
}

// Decliner declines inbound challenges the policy rejects.
type Decliner interface {
	DeclineChallenge(ctx context.Context, challengeID string, reason challenge.DeclineReason) error
}

// Validator screens inbound challenges.
type Validator interface {
	Check(in challenge.Inbound) (challenge.DeclineReason, bool)
}

// Config carries the pump's collaborators and tunables.
type Config struct {
	Stream    Stream
	Decliner  Decliner
	Validator Validator
	Scheduler Scheduler
	// OwnUser is the bot's own account name; challenges it issued itself
	// echo back on the stream and are skipped.
	OwnUser        string
	ReconnectDelay time.Duration
	Logger         pslog.Logger
	Clock          clock.Clock
}

// Pump is the account-stream consumer.
type Pump struct {
	cfg    Config
	logger pslog.Logger
}

// NewPump assembles a pump.
func NewPump(cfg Config) *Pump {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Pump{cfg: cfg, logger: svcfields.WithSubsystem(cfg.Logger, "events")}
}

// Run consumes the stream until ctx is cancelled, reconnecting whenever the
// connection drops.
func (p *Pump) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := p.cfg.Stream.StreamEvents(ctx)
		if err != nil {
			p.logger.Warn("seatd.events.connect_failed", "error", err)
			if !p.pause(ctx) {
				return
			}
			continue
		}
		p.logger.Debug("seatd.events.connected")
		for ev := range stream {
			p.handle(ctx, ev)
		}
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("seatd.events.disconnected")
		if !p.pause(ctx) {
			return
		}
	}
}

func (p *Pump) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.cfg.Clock.After(p.cfg.ReconnectDelay):
		return true
	}
}

func (p *Pump) handle(ctx context.Context, ev arena.Event) {
	switch ev.Type {
	case arena.EventChallenge:
		if ev.Challenge == nil {
			p.logger.Warn("seatd.events.malformed", "type", ev.Type)
			return
		}
		p.handleChallenge(ctx, ev.Challenge)
	case arena.EventGameStart:
		if ev.Game == nil {
			p.logger.Warn("seatd.events.malformed", "type", ev.Type)
			return
		}
		p.cfg.Scheduler.OnGameStarted(ev.Game.ID)
	case arena.EventGameFinish:
		if ev.Game == nil {
			p.logger.Warn("seatd.events.malformed", "type", ev.Type)
			return
		}
		p.cfg.Scheduler.OnGameFinished(ev.Game.ID)
	case arena.EventChallengeCanceled:
		if ev.Challenge == nil {
			p.logger.Warn("seatd.events.malformed", "type", ev.Type)
			return
		}
		p.cfg.Scheduler.RemoveChallenge(ev.Challenge.ID)
	case arena.EventChallengeDeclined:
		// Outcome of an own outbound challenge; the creation stream already
		// reported it.
	default:
		p.logger.Warn("seatd.events.unhandled", "type", ev.Type)
	}
}

func (p *Pump) handleChallenge(ctx context.Context, ev *arena.ChallengeEvent) {
	if ev.Challenger.Name == p.cfg.OwnUser {
		return
	}
	in := challenge.Inbound{
		ID:          ev.ID,
		Challenger:  ev.Challenger.Name,
		Title:       ev.Challenger.Title,
		Rating:      ev.Challenger.Rating,
		Rated:       ev.Rated,
		Variant:     ev.Variant.Key,
		Speed:       ev.Speed,
		TimeControl: ev.TimeControl.Show,
		InitialTime: ev.TimeControl.Limit,
		Increment:   ev.TimeControl.Increment,
	}
	if reason, declined := p.cfg.Validator.Check(in); declined {
		if err := p.cfg.Decliner.DeclineChallenge(ctx, ev.ID, reason); err != nil {
			p.logger.Warn("seatd.events.decline_failed",
				"challenge_id", ev.ID,
				"reason", reason,
				"error", err)
		}
		return
	}
	p.cfg.Scheduler.AddChallenge(ev.ID)
	p.logger.Info("seatd.events.challenge.queued",
		"challenge_id", ev.ID,
		"challenger", in.Challenger)
}
