package seatd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/arena"
	"pkt.systems/seatd/internal/challenge"
	"pkt.systems/seatd/internal/clock"
	"pkt.systems/seatd/internal/control"
	"pkt.systems/seatd/internal/events"
	"pkt.systems/seatd/internal/game"
	"pkt.systems/seatd/internal/matchmaking"
	"pkt.systems/seatd/internal/sched"
)

// DefaultDrainTimeout caps how long shutdown waits for running games before
// their workers are cancelled.
const DefaultDrainTimeout = 30 * time.Second

// Option customises a Server beyond its Config.
type Option func(*Server)

// WithClock injects a clock; tests drive it manually.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// WithPlayer installs a move provider for game workers. Without one the
// workers observe their games and only handle abort housekeeping.
func WithPlayer(p game.Player) Option {
	return func(s *Server) { s.player = p }
}

// WithArenaTransport overrides the arena HTTP transport; tests point it at
// local fixtures.
func WithArenaTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// WithDrainTimeout adjusts how long shutdown waits for running games.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// Server wires the arena client, the session scheduler, the event pump, the
// matchmaker, and the control surface into one runnable unit.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	clk          clock.Clock
	player       game.Player
	transport    http.RoundTripper
	drainTimeout time.Duration

	client     *arena.Client
	scheduler  *sched.Scheduler
	matchmaker *matchmaking.Matchmaker
}

// New validates the configuration and assembles a server.
func New(cfg Config, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:          cfg,
		logger:       cfg.Logger,
		clk:          clock.Real{},
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts every component and blocks until ctx is cancelled, then drains
// gracefully: producers first, then the scheduler with its running games.
func (s *Server) Run(ctx context.Context) error {
	token, err := s.cfg.resolveToken()
	if err != nil {
		return err
	}

	telemetry, err := setupTelemetry(ctx, s.cfg.MetricsListen, s.cfg.PprofListen, s.cfg.RuntimeMetrics, s.logger)
	if err != nil {
		return err
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
	}

	s.client = arena.NewClient(arena.Config{
		BaseURL:   s.cfg.BaseURL,
		Token:     token,
		Timeout:   s.cfg.HTTPTimeout,
		Logger:    s.logger,
		Clock:     s.clk,
		Transport: s.transport,
	})
	account, err := s.client.Login(ctx)
	if err != nil {
		return fmt.Errorf("arena login: %w", err)
	}
	if account.Title != "BOT" {
		return fmt.Errorf("account %q is not a bot account", account.Username)
	}

	// Workers outlive ctx so running games can finish during drain; the
	// cancel below is the drain-timeout escape hatch.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	factory := game.NewFactory(workerCtx, game.Config{
		Logger: s.logger,
		Clock:  s.clk,
	}, s.client, s.player)

	challenger := challenge.NewChallenger(s.client, s.logger)

	var schedMatchmaker sched.Matchmaker
	if s.cfg.Matchmaking.InitialTime > 0 {
		s.matchmaker = matchmaking.New(matchmaking.Config{
			Username:        account.Username,
			Variant:         s.cfg.Matchmaking.Variant,
			InitialTime:     s.cfg.Matchmaking.InitialTime,
			Increment:       s.cfg.Matchmaking.Increment,
			Rated:           s.cfg.Matchmaking.Rated,
			Timeout:         s.cfg.Matchmaking.Timeout,
			MinRatingDiff:   s.cfg.Matchmaking.MinRatingDiff,
			MaxRatingDiff:   s.cfg.Matchmaking.MaxRatingDiff,
			StorePath:       s.cfg.Matchmaking.StorePath,
			RefreshInterval: s.cfg.Matchmaking.RefreshInterval,
			Logger:          s.logger,
			Clock:           s.clk,
		}, s.client, challenger)
		schedMatchmaker = s.matchmaker
	}

	s.scheduler = sched.New(sched.Config{
		MaxGames:         s.cfg.MaxGames,
		MatchmakingDelay: s.cfg.MatchmakingDelay,
		Logger:           s.logger,
		Clock:            s.clk,
	}, s.client, sched.WorkerFactoryFunc(func(gameID string) sched.Worker {
		return factory.New(gameID)
	}), challenger, schedMatchmaker)
	s.scheduler.SetMatchmaking(s.cfg.Matchmaking.Enabled && schedMatchmaker != nil)

	validator := challenge.NewValidator(challenge.ValidatorConfig{
		Variants:                s.cfg.Challenge.Variants,
		TimeControls:            s.cfg.Challenge.TimeControls,
		BotModes:                s.cfg.Challenge.BotModes,
		HumanModes:              s.cfg.Challenge.HumanModes,
		BulletWithIncrementOnly: s.cfg.Challenge.BulletWithIncrementOnly,
		MinInitial:              s.cfg.Challenge.MinInitial,
		MaxInitial:              s.cfg.Challenge.MaxInitial,
		MinIncrement:            s.cfg.Challenge.MinIncrement,
		MaxIncrement:            s.cfg.Challenge.MaxIncrement,
	}, s.logger)

	pump := events.NewPump(events.Config{
		Stream:         s.client,
		Decliner:       s.client,
		Validator:      validator,
		Scheduler:      s.scheduler,
		OwnUser:        account.Username,
		ReconnectDelay: s.cfg.EventReconnectDelay,
		Logger:         s.logger,
		Clock:          s.clk,
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pump.Run(runCtx)
	}()

	if s.cfg.ControlPath != "" {
		watcher := control.NewWatcher(s.cfg.ControlPath, controlTarget{
			scheduler:  s.scheduler,
			matchmaker: s.matchmaker,
		}, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(runCtx); err != nil {
				s.logger.Warn("seatd.control.failed", "error", err)
			}
		}()
	}

	go s.scheduler.Run()
	s.logger.Info("seatd.running",
		"username", account.Username,
		"max_games", s.cfg.MaxGames,
		"matchmaking", s.scheduler.MatchmakingEnabled())

	<-ctx.Done()
	s.logger.Info("seatd.shutdown.begin")

	cancelRun()
	wg.Wait()

	s.scheduler.Stop()
	select {
	case <-s.scheduler.Done():
	case <-time.After(s.drainTimeout):
		s.logger.Warn("seatd.shutdown.drain_timeout", "timeout", s.drainTimeout)
		cancelWorkers()
		<-s.scheduler.Done()
	}
	s.logger.Info("seatd.shutdown.complete")
	return nil
}

// Scheduler exposes the session scheduler, nil before Run.
func (s *Server) Scheduler() *sched.Scheduler { return s.scheduler }

// controlTarget adapts the scheduler and matchmaker to the control surface.
type controlTarget struct {
	scheduler  *sched.Scheduler
	matchmaker *matchmaking.Matchmaker
}

func (t controlTarget) SetMatchmaking(enabled bool) {
	t.scheduler.SetMatchmaking(enabled)
}

func (t controlTarget) ResetMatchmaking(full bool) {
	if t.matchmaker != nil {
		t.matchmaker.Reset(full)
	}
}

var _ control.Target = controlTarget{}
