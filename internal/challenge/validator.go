package challenge

import (
	"slices"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/svcfields"
)

// Upper bound on initial time when the config leaves it open: ten years in
// seconds, enough for any correspondence control the arena offers.
const defaultMaxInitial = 315360000

const defaultMaxIncrement = 180

// ValidatorConfig is the inbound-challenge acceptance policy.
type ValidatorConfig struct {
	// Variants lists the accepted variant keys.
	Variants []string
	// TimeControls lists the accepted speeds (bullet, blitz, rapid, ...).
	TimeControls []string
	// BotModes lists the modes (rated, casual) accepted from bot
	// challengers; empty declines bots entirely.
	BotModes []string
	// HumanModes is the same for human challengers; empty declines humans.
	HumanModes []string
	// BulletWithIncrementOnly declines zero-increment bullet.
	BulletWithIncrementOnly bool
	MinInitial              int
	MaxInitial              int
	MinIncrement            int
	MaxIncrement            int
}

// Validator applies the acceptance policy to inbound challenges.
type Validator struct {
	cfg    ValidatorConfig
	logger pslog.Logger
}

// NewValidator builds a validator, filling open bounds with permissive
// defaults.
func NewValidator(cfg ValidatorConfig, logger pslog.Logger) *Validator {
	if cfg.MaxInitial <= 0 {
		cfg.MaxInitial = defaultMaxInitial
	}
	if cfg.MaxIncrement <= 0 {
		cfg.MaxIncrement = defaultMaxIncrement
	}
	return &Validator{
		cfg:    cfg,
		logger: svcfields.WithSubsystem(logger, "challenge.validate"),
	}
}

// Check evaluates one inbound challenge. It returns declined=false when the
// challenge should be accepted, otherwise the reason to send with the
// decline. Every challenge produces one summary log line.
func (v *Validator) Check(in Inbound) (reason DeclineReason, declined bool) {
	v.logger.Info("seatd.challenge.inbound",
		"challenge_id", in.ID,
		"challenger", in.Challenger,
		"title", in.Title,
		"rating", in.Rating,
		"tc", in.TimeControl,
		"rated", in.Rated,
		"variant", in.Variant)

	modes := v.cfg.HumanModes
	if in.IsBot() {
		modes = v.cfg.BotModes
	}
	if len(modes) == 0 {
		if in.IsBot() {
			return v.decline(in, DeclineNoBot, "bots are not allowed")
		}
		return v.decline(in, DeclineOnlyBot, "only bots are allowed")
	}

	if !slices.Contains(v.cfg.Variants, in.Variant) {
		return v.decline(in, DeclineVariant, "variant not allowed")
	}
	if !slices.Contains(v.cfg.TimeControls, in.Speed) {
		return v.decline(in, DeclineTimeControl, "time control not allowed")
	}
	switch {
	case in.Increment < v.cfg.MinIncrement:
		return v.decline(in, DeclineTooFast, "increment too short")
	case in.Increment > v.cfg.MaxIncrement:
		return v.decline(in, DeclineTooSlow, "increment too long")
	case in.InitialTime < v.cfg.MinInitial:
		return v.decline(in, DeclineTooFast, "initial time too short")
	case in.InitialTime > v.cfg.MaxInitial:
		return v.decline(in, DeclineTooSlow, "initial time too long")
	case in.Speed == "bullet" && in.Increment == 0 && v.cfg.BulletWithIncrementOnly:
		return v.decline(in, DeclineTooFast, "bullet requires increment")
	}

	mode := "casual"
	if in.Rated {
		mode = "rated"
	}
	if !slices.Contains(modes, mode) {
		if in.Rated {
			return v.decline(in, DeclineCasual, "rated not allowed")
		}
		return v.decline(in, DeclineRated, "casual not allowed")
	}
	return "", false
}

func (v *Validator) decline(in Inbound, reason DeclineReason, why string) (DeclineReason, bool) {
	v.logger.Info("seatd.challenge.decline",
		"challenge_id", in.ID,
		"challenger", in.Challenger,
		"reason", reason,
		"detail", why)
	return reason, true
}
