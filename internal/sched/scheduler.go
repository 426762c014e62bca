// Package sched contains the session-admission scheduler: a single-consumer
// event loop that serializes every session lifecycle transition against one
// seat counter. Producers (event pump, control surface, CLI) only push onto
// its queues and set its wake signal; all scheduler-owned state (reserved
// set, game map, matchmaking bookkeeping) is touched exclusively by the loop
// goroutine.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/challenge"
	"pkt.systems/seatd/internal/clock"
	"pkt.systems/seatd/internal/svcfields"
)

// Defaults for the scheduler configuration.
const (
	DefaultMaxGames         = 1
	DefaultMatchmakingDelay = 10 * time.Second

	minMatchmakingDelay = time.Second
)

// Arena is the slice of the remote service client the scheduler invokes
// directly.
type Arena interface {
	// AcceptChallenge accepts an inbound challenge; nil means the session
	// will eventually start under the same id.
	AcceptChallenge(ctx context.Context, challengeID string) error
	// AbortGame requests a session abort. Best effort.
	AbortGame(ctx context.Context, gameID string) error
}

// Worker is one running session. The scheduler owns a Worker from
// construction until Wait returns.
type Worker interface {
	// Start launches the worker's run.
	Start()
	// Wait blocks until the worker's run has completed.
	Wait()
}

// session is one tracked worker. seated records whether the start transition
// actually took a seat; a capacity-violation session runs without one, so
// finish and drain must not release a seat it never held.
type session struct {
	worker Worker
	seated bool
}

// WorkerFactory constructs, without starting, the Worker for a session id.
type WorkerFactory interface {
	NewWorker(gameID string) Worker
}

// WorkerFactoryFunc adapts a plain function to WorkerFactory.
type WorkerFactoryFunc func(gameID string) Worker

// NewWorker calls f.
func (f WorkerFactoryFunc) NewWorker(gameID string) Worker { return f(gameID) }

// Challenger performs outbound challenge creation. The returned channel is
// closed when the finite response stream ends; the last response is
// authoritative.
type Challenger interface {
	Create(ctx context.Context, req challenge.Request) <-chan challenge.Response
}

// Matchmaker is the proactive-matchmaking collaborator. CreateChallenge runs
// on its own goroutine and must resolve the handshake's early id and final
// outcome exactly once each. The notification methods are invoked from the
// scheduler loop when the affected id is the current matchmaking session.
type Matchmaker interface {
	CreateChallenge(ctx context.Context, hs *Handshake)
	OnGameStarted(gameID string)
	OnGameFinished(gameID string, w Worker)
}

// Config carries the scheduler's tunables.
type Config struct {
	// MaxGames caps concurrent sessions, reserved seats included. Minimum
	// and default 1.
	MaxGames int
	// MatchmakingDelay is how long the loop waits for a wake signal before
	// attempting proactive matchmaking. Minimum 1s, default 10s.
	MatchmakingDelay time.Duration
	Logger           pslog.Logger
	Clock            clock.Clock
}

// Scheduler owns the seat counter, the work queues, and every session from
// acceptance to completion. Run drives it on one goroutine.
type Scheduler struct {
	logger     pslog.Logger
	clk        clock.Clock
	delay      time.Duration
	arena      Arena
	workers    WorkerFactory
	challenger Challenger
	matchmaker Matchmaker
	metrics    *schedMetrics

	seats *SeatCounter

	// Loop-owned; never touched off the loop goroutine.
	games            map[string]session
	reserved         []string
	currentMatchGame string

	matchmakingOn atomic.Bool

	inbound  idQueue
	requests requestQueue
	started  idQueue
	finished idQueue

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New assembles a scheduler. Nil collaborators are only acceptable when the
// corresponding path is never exercised (tests); production wiring supplies
// all of them.
func New(cfg Config, arena Arena, workers WorkerFactory, challenger Challenger, matchmaker Matchmaker) *Scheduler {
	if cfg.MaxGames < 1 {
		cfg.MaxGames = DefaultMaxGames
	}
	if cfg.MatchmakingDelay <= 0 {
		cfg.MatchmakingDelay = DefaultMatchmakingDelay
	}
	if cfg.MatchmakingDelay < minMatchmakingDelay {
		cfg.MatchmakingDelay = minMatchmakingDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	logger := svcfields.WithSubsystem(cfg.Logger, "sched")
	return &Scheduler{
		logger:     logger,
		clk:        cfg.Clock,
		delay:      cfg.MatchmakingDelay,
		arena:      arena,
		workers:    workers,
		challenger: challenger,
		matchmaker: matchmaker,
		metrics:    newSchedMetrics(logger),
		seats:      NewSeatCounter(cfg.MaxGames),
		games:      make(map[string]session),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Seats exposes the seat counter for diagnostics and tests.
func (s *Scheduler) Seats() *SeatCounter { return s.seats }

// AddChallenge queues an inbound challenge id for acceptance.
func (s *Scheduler) AddChallenge(challengeID string) {
	s.inbound.push(challengeID)
	s.signal()
}

// RemoveChallenge withdraws a still-queued inbound challenge id. Best
// effort: racing with the loop already having dequeued it is not an error.
func (s *Scheduler) RemoveChallenge(challengeID string) {
	if s.inbound.remove(challengeID) {
		s.logger.Info("seatd.sched.challenge.withdrawn", "challenge_id", challengeID)
		s.signal()
	}
}

// RequestChallenge queues an outbound challenge creation request.
func (s *Scheduler) RequestChallenge(req challenge.Request) {
	s.requests.push(req)
	s.signal()
}

// OnGameStarted records that the remote service reports the session as
// started.
func (s *Scheduler) OnGameStarted(gameID string) {
	s.started.push(gameID)
	s.signal()
}

// OnGameFinished records that the remote service reports the session as
// finished.
func (s *Scheduler) OnGameFinished(gameID string) {
	s.finished.push(gameID)
	s.signal()
}

// SetMatchmaking enables or disables proactive matchmaking. A rate-limit
// detection also flips this off; it stays off until re-enabled here.
func (s *Scheduler) SetMatchmaking(enabled bool) {
	was := s.matchmakingOn.Swap(enabled)
	if was != enabled {
		s.logger.Info("seatd.sched.matchmaking.toggled", "enabled", enabled)
	}
}

// MatchmakingEnabled reports the current matchmaking toggle.
func (s *Scheduler) MatchmakingEnabled() bool {
	return s.matchmakingOn.Load()
}

// Stop requests a graceful shutdown: the loop exits after its current
// iteration, waits out every tracked session, and releases its seats.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once Run has fully drained and returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the scheduler loop until Stop. All queue drains, admission
// decisions, and session transitions happen here, on the calling goroutine.
func (s *Scheduler) Run() {
	defer close(s.done)
	s.logger.Info("seatd.sched.run",
		"max_games", s.seats.Max(),
		"matchmaking_delay", s.delay)
	for {
		select {
		case <-s.stop:
			s.drainGames()
			return
		case <-s.clk.After(s.delay):
			// No producer signaled within the delay; the queues are empty,
			// so this slot is spent on proactive matchmaking.
			s.checkMatchmaking()
			continue
		case <-s.wake:
		}

		for {
			id, ok := s.started.pop()
			if !ok {
				break
			}
			s.startGame(id)
		}
		for {
			id, ok := s.finished.pop()
			if !ok {
				break
			}
			s.finishGame(id)
		}
		for !s.seats.IsAtOrOver(len(s.reserved)) {
			req, ok := s.requests.pop()
			if !ok {
				break
			}
			s.createChallenge(req)
		}
		for !s.seats.IsAtOrOver(len(s.reserved)) {
			id, ok := s.inbound.pop()
			if !ok {
				break
			}
			s.acceptChallenge(id)
		}
	}
}

// startGame transitions a session to running. A start with no free seat is a
// protocol violation by the remote side: the session is asked to abort, yet
// the worker is still constructed and started so teardown stays uniform.
func (s *Scheduler) startGame(gameID string) {
	s.removeReserved(gameID)
	if gameID == s.currentMatchGame && s.matchmaker != nil {
		s.matchmaker.OnGameStarted(gameID)
	}
	seated := s.seats.Increment()
	if !seated {
		// May mask an accounting bug upstream; abort-and-continue is the
		// compensating action, not a fix.
		s.logger.Error("seatd.sched.seat.violation",
			"game_id", gameID,
			"max_games", s.seats.Max())
		s.metrics.recordSeatViolation()
		if err := s.arena.AbortGame(context.Background(), gameID); err != nil {
			s.logger.Warn("seatd.sched.abort_failed", "game_id", gameID, "error", err)
		}
	}
	w := s.workers.NewWorker(gameID)
	s.games[gameID] = session{worker: w, seated: seated}
	w.Start()
	s.metrics.recordStarted()
	s.metrics.addGameActive(1)
	s.logger.Info("seatd.sched.game.started",
		"game_id", gameID,
		"active", len(s.games),
		"reserved", len(s.reserved))
}

// finishGame waits out the session's worker and releases its seat. A finish
// notification for an untracked id means the scheduler's model has diverged
// from the remote service's, which is fatal.
func (s *Scheduler) finishGame(gameID string) {
	sess, ok := s.games[gameID]
	if !ok {
		panic("sched: finish notification for untracked game " + gameID)
	}
	sess.worker.Wait()
	if gameID == s.currentMatchGame {
		if s.matchmaker != nil {
			s.matchmaker.OnGameFinished(gameID, sess.worker)
		}
		s.currentMatchGame = ""
	}
	delete(s.games, gameID)
	if sess.seated {
		s.seats.Decrement()
	}
	s.metrics.recordFinished()
	s.metrics.addGameActive(-1)
	s.logger.Info("seatd.sched.game.finished",
		"game_id", gameID,
		"active", len(s.games))
}

// createChallenge runs one outbound creation attempt to completion. Any
// intermediate response naming a challenge id is retained as the session
// candidate; the stream's last response decides whether it is reserved.
func (s *Scheduler) createChallenge(req challenge.Request) {
	s.logger.Info("seatd.sched.challenge.create",
		"request_id", req.ID,
		"opponent", req.Opponent)
	var last *challenge.Response
	candidate := ""
	for resp := range s.challenger.Create(context.Background(), req) {
		resp := resp
		last = &resp
		if resp.ChallengeID != "" {
			candidate = resp.ChallengeID
		}
	}
	if last == nil {
		panic("sched: challenge creation stream yielded no responses")
	}
	if !last.Success {
		s.metrics.recordCreation(false)
		return
	}
	if candidate == "" {
		panic("sched: challenge creation succeeded without a challenge id")
	}
	s.reserve(candidate)
	s.metrics.recordCreation(true)
}

// acceptChallenge accepts one admission-cleared inbound challenge. Failure
// drops the id; the challenger may re-issue.
func (s *Scheduler) acceptChallenge(challengeID string) {
	if err := s.arena.AcceptChallenge(context.Background(), challengeID); err != nil {
		s.logger.Warn("seatd.sched.challenge.accept_failed",
			"challenge_id", challengeID,
			"error", err)
		s.metrics.recordAccept(false)
		return
	}
	s.reserve(challengeID)
	s.metrics.recordAccept(true)
	s.logger.Info("seatd.sched.challenge.accepted",
		"challenge_id", challengeID,
		"reserved", len(s.reserved))
}

// checkMatchmaking runs at most one proactive creation attempt. The loop
// deliberately blocks on both handshake reads; the background task keeps the
// remote conversation moving meanwhile.
func (s *Scheduler) checkMatchmaking() {
	if s.matchmaker == nil || !s.matchmakingOn.Load() {
		return
	}
	if s.seats.IsAtOrOver(len(s.reserved)) {
		return
	}
	if s.currentMatchGame != "" {
		return
	}

	hs := NewHandshake()
	go s.matchmaker.CreateChallenge(context.Background(), hs)

	if id, ok := hs.ChallengeID(); ok {
		s.currentMatchGame = id
	}
	outcome := hs.Outcome()
	if outcome.Success {
		if s.currentMatchGame == "" {
			panic("sched: matchmaking succeeded without a challenge id")
		}
		s.reserve(s.currentMatchGame)
		s.metrics.recordMatchmaking(true)
		return
	}
	s.currentMatchGame = ""
	s.metrics.recordMatchmaking(false)
	if outcome.RateLimited {
		s.matchmakingOn.Store(false)
		s.logger.Error("seatd.sched.matchmaking.rate_limited",
			"detail", "matchmaking disabled until re-enabled externally")
	}
}

// drainGames joins every still-tracked worker and returns its seat. No new
// work is admitted here.
func (s *Scheduler) drainGames() {
	s.logger.Info("seatd.sched.drain", "active", len(s.games))
	for gameID, sess := range s.games {
		sess.worker.Wait()
		if sess.seated {
			s.seats.Decrement()
		}
		s.metrics.addGameActive(-1)
		s.logger.Info("seatd.sched.drain.game", "game_id", gameID)
	}
	s.games = make(map[string]session)
	s.logger.Info("seatd.sched.drained", "seats", s.seats.Value())
}

func (s *Scheduler) reserve(id string) {
	s.reserved = append(s.reserved, id)
	s.metrics.addReserved(1)
}

func (s *Scheduler) removeReserved(id string) {
	for i, reserved := range s.reserved {
		if reserved == id {
			s.reserved = append(s.reserved[:i], s.reserved[i+1:]...)
			s.metrics.addReserved(-1)
			return
		}
	}
}
