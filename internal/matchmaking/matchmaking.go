// Package matchmaking picks opponents for proactive challenges. Candidates
// come from the online-bot listing filtered to a rating window; opponents
// that declined or aborted recently sit out a growing cooldown which is
// persisted across restarts. Games are requested in white/black pairs
// against the same opponent.
package matchmaking

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/arena"
	"pkt.systems/seatd/internal/challenge"
	"pkt.systems/seatd/internal/clock"
	"pkt.systems/seatd/internal/sched"
	"pkt.systems/seatd/internal/svcfields"
)

// Defaults for the matchmaking configuration.
const (
	DefaultRefreshInterval = 30 * time.Minute
	DefaultStorePath       = "matchmaking.json"

	// defaultUnratedPerf is assumed when a candidate has no rating in the
	// active category.
	defaultUnratedPerf = 1500
)

// ArenaClient is the slice of the arena client matchmaking needs.
type ArenaClient interface {
	OnlineBots(ctx context.Context) ([]arena.BotUser, error)
	Performance(ctx context.Context, username, perfType string) (arena.Glicko, error)
}

// Creator performs the outbound challenge creation.
type Creator interface {
	Create(ctx context.Context, req challenge.Request) <-chan challenge.Response
}

// Config carries the matchmaking tunables.
type Config struct {
	// Username is the bot's own account name, excluded from candidates.
	Username string
	Variant  string
	// InitialTime and Increment are the requested clock, in seconds.
	InitialTime int
	Increment   int
	Rated       bool
	// Timeout bounds one creation attempt.
	Timeout time.Duration
	// MinRatingDiff and MaxRatingDiff bound the candidate rating window.
	// MaxRatingDiff 0 means unbounded.
	MinRatingDiff int
	MaxRatingDiff int
	// StorePath is the cooldown persistence file.
	StorePath string
	// RefreshInterval spaces out online-bot and rating refreshes.
	RefreshInterval time.Duration
	Logger          pslog.Logger
	Clock           clock.Clock
}

type candidate struct {
	username   string
	ratingDiff float64
}

// Matchmaker implements the scheduler's proactive-challenge collaborator.
type Matchmaker struct {
	cfg       Config
	logger    pslog.Logger
	clk       clock.Clock
	arena     ArenaClient
	creator   Creator
	perfType  string
	estimated time.Duration
	store     *opponentStore

	mu           sync.Mutex
	nextUpdate   time.Time
	playerRating float64
	candidates   []candidate
	opponent     string
	needNext     bool
	gameStart    time.Time
}

// New assembles a matchmaker.
func New(cfg Config, arenaClient ArenaClient, creator Creator) *Matchmaker {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	logger := svcfields.WithSubsystem(cfg.Logger, "matchmaking")
	perfType := perfTypeFor(cfg.Variant, cfg.InitialTime, cfg.Increment)
	// A pair of games, with a generous allowance of 80 moves each.
	estimated := time.Duration(cfg.InitialTime+cfg.Increment*80) * time.Second * 2
	return &Matchmaker{
		cfg:       cfg,
		logger:    logger,
		clk:       cfg.Clock,
		arena:     arenaClient,
		creator:   creator,
		perfType:  perfType,
		estimated: estimated,
		store:     newOpponentStore(cfg.StorePath, perfType, estimated, cfg.Clock, logger),
		needNext:  true,
	}
}

// PerfType returns the rating category the matchmaker operates in.
func (m *Matchmaker) PerfType() string { return m.perfType }

// CreateChallenge runs one proactive creation attempt and resolves the
// handshake. Runs on its own goroutine; the scheduler loop blocks on the
// handshake meanwhile.
func (m *Matchmaker) CreateChallenge(ctx context.Context, hs *sched.Handshake) {
	m.mu.Lock()
	defer m.mu.Unlock()

	color := challenge.ColorBlack
	if m.needNext {
		opponent, diff, ok := m.nextOpponent(ctx)
		if !ok {
			hs.Finish(sched.Outcome{})
			return
		}
		m.opponent = opponent
		m.needNext = false
		color = challenge.ColorWhite
		m.logger.Info("seatd.matchmaking.opponent",
			"opponent", opponent,
			"rating_diff", diff,
			"perf", m.perfType)
	}

	req := challenge.Request{
		ID:          xid.New().String(),
		Opponent:    m.opponent,
		InitialTime: m.cfg.InitialTime,
		Increment:   m.cfg.Increment,
		Rated:       m.cfg.Rated,
		Color:       color,
		Variant:     m.cfg.Variant,
		Timeout:     m.cfg.Timeout,
	}
	if color == challenge.ColorBlack {
		// Second game of the pair; the next attempt moves on.
		m.needNext = true
	}

	var last challenge.Response
	got := false
	for resp := range m.creator.Create(ctx, req) {
		last = resp
		got = true
		if resp.ChallengeID != "" {
			hs.SetChallengeID(resp.ChallengeID)
		}
	}
	if !got {
		m.logger.Warn("seatd.matchmaking.create.no_response", "opponent", m.opponent)
	}

	if !last.Success && !last.RateLimited {
		// The opponent declined or the attempt timed out; cool the opponent
		// down as if a full pair had been played.
		m.needNext = true
		m.store.addTimeout(m.opponent, false, m.estimated)
	}
	hs.Finish(sched.Outcome{Success: last.Success, RateLimited: last.RateLimited})
}

// OnGameStarted marks the start of the current matchmaking game.
func (m *Matchmaker) OnGameStarted(gameID string) {
	m.mu.Lock()
	m.gameStart = m.clk.Now()
	m.mu.Unlock()
}

// OnGameFinished records the outcome of the current matchmaking game. An
// aborted game counts against the opponent; its cooldown is charged as if a
// full pair had run.
func (m *Matchmaker) OnGameFinished(gameID string, w sched.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opponent == "" {
		return
	}
	aborted := false
	if a, ok := w.(interface{ Aborted() bool }); ok {
		aborted = a.Aborted()
	}
	duration := m.estimated
	if !m.gameStart.IsZero() {
		duration = m.clk.Since(m.gameStart)
	}
	if aborted {
		m.needNext = true
		duration += m.estimated
	}
	m.store.addTimeout(m.opponent, !aborted, duration)
}

// Reset releases opponent cooldowns. Without full, only opponents at the
// base multiplier are released.
func (m *Matchmaker) Reset(full bool) {
	m.mu.Lock()
	m.store.reset(full)
	m.mu.Unlock()
}

// nextOpponent returns the best released candidate. Called with m.mu held.
func (m *Matchmaker) nextOpponent(ctx context.Context) (string, float64, bool) {
	if m.clk.Now().After(m.nextUpdate) || len(m.candidates) == 0 {
		if !m.refresh(ctx) {
			return "", 0, false
		}
	}
	for _, c := range m.candidates {
		if m.store.released(c.username) {
			return c.username, c.ratingDiff, true
		}
	}
	// Everyone is cooling down; release the well-behaved ones and rescan.
	m.store.reset(false)
	for _, c := range m.candidates {
		if m.store.released(c.username) {
			return c.username, c.ratingDiff, true
		}
	}
	m.logger.Warn("seatd.matchmaking.no_opponent",
		"candidates", len(m.candidates),
		"perf", m.perfType)
	return "", 0, false
}

// refresh reloads the own rating and the candidate list. Called with m.mu
// held.
func (m *Matchmaker) refresh(ctx context.Context) bool {
	m.logger.Info("seatd.matchmaking.refresh", "perf", m.perfType)
	glicko, err := m.arena.Performance(ctx, m.cfg.Username, m.perfType)
	if err != nil {
		m.logger.Warn("seatd.matchmaking.rating_failed", "error", err)
		return false
	}
	rating := glicko.Rating
	if glicko.Provisional {
		rating += glicko.Deviation
	}
	m.playerRating = rating

	bots, err := m.arena.OnlineBots(ctx)
	if err != nil {
		m.logger.Warn("seatd.matchmaking.bots_failed", "error", err)
		return false
	}
	m.candidates = m.filterCandidates(bots)
	if len(m.candidates) == 0 {
		m.logger.Warn("seatd.matchmaking.no_candidates",
			"bots_online", len(bots),
			"min_rating_diff", m.cfg.MinRatingDiff,
			"max_rating_diff", m.cfg.MaxRatingDiff)
		return false
	}
	m.nextUpdate = m.clk.Now().Add(m.cfg.RefreshInterval)
	m.logger.Info("seatd.matchmaking.refreshed",
		"candidates", len(m.candidates),
		"own_rating", m.playerRating)
	return true
}

func (m *Matchmaker) filterCandidates(bots []arena.BotUser) []candidate {
	var out []candidate
	for _, bot := range bots {
		if bot.Username == m.cfg.Username {
			continue
		}
		rating := float64(defaultUnratedPerf)
		if perf, ok := bot.Perfs[m.perfType]; ok {
			rating = float64(perf.Rating)
		}
		diff := rating - m.playerRating
		abs := math.Abs(diff)
		if abs < float64(m.cfg.MinRatingDiff) {
			continue
		}
		if m.cfg.MaxRatingDiff > 0 && abs > float64(m.cfg.MaxRatingDiff) {
			continue
		}
		out = append(out, candidate{username: bot.Username, ratingDiff: diff})
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].ratingDiff) < math.Abs(out[j].ratingDiff)
	})
	return out
}

// perfTypeFor maps the configured variant and clock to a rating category.
func perfTypeFor(variant string, initialTime, increment int) string {
	if variant != "standard" && variant != "fromPosition" && variant != "" {
		return variant
	}
	// Estimated one-game duration at 40 moves.
	estimated := initialTime + increment*40
	switch {
	case estimated < 179:
		return "bullet"
	case estimated < 479:
		return "blitz"
	case estimated < 1499:
		return "rapid"
	default:
		return "classical"
	}
}
