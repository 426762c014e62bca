// Package game runs one session worker per active game: it consumes the
// game stream, tracks the session's terminal status, aborts games the
// opponent never shows up for, and relays chat to the log. Move selection is
// delegated to an optional Player; without one the worker observes.
package game

import (
	"context"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/arena"
	"pkt.systems/seatd/internal/clock"
	"pkt.systems/seatd/internal/svcfields"
)

const (
	// abortPingThreshold is how many keep-alive pings may pass on a game
	// that has not effectively started before the worker tries to abort it.
	abortPingThreshold = 7
	// maxAbortAttempts bounds abort retries before the worker gives up on
	// the session.
	maxAbortAttempts = 3
	// abortableMoveLimit is the number of played moves up to which a game
	// may still be aborted.
	abortableMoveLimit = 2

	defaultReconnectDelay = 2 * time.Second
)

// Streamer opens the per-game update stream.
type Streamer interface {
	StreamGame(ctx context.Context, gameID string) (<-chan arena.GameUpdate, error)
}

// Actor performs game actions against the remote service.
type Actor interface {
	AbortGame(ctx context.Context, gameID string) error
	ResignGame(ctx context.Context, gameID string) error
	SendMove(ctx context.Context, gameID, uciMove string, offerDraw bool) error
	SendChat(ctx context.Context, gameID, room, text string) error
}

// Client is the slice of the arena client a worker needs.
type Client interface {
	Streamer
	Actor
}

// Action is what a Player wants done in response to an update.
type Action struct {
	Move      string
	OfferDraw bool
	Resign    bool
}

// Player chooses moves. React returns nil when no action is due. A nil
// Player leaves the worker in observer mode.
type Player interface {
	React(update arena.GameUpdate) *Action
}

// Config carries the worker tunables.
type Config struct {
	ReconnectDelay time.Duration
	Logger         pslog.Logger
	Clock          clock.Clock
}

// Worker drives one game session from stream open to terminal status.
type Worker struct {
	id     string
	client Client
	player Player
	logger pslog.Logger
	clk    clock.Clock
	delay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Stream-goroutine state; read by Aborted only after done closes.
	started    bool
	aborted    bool
	moveCount  int
	pingCount  int
	abortCount int
}

// New constructs, without starting, a worker for gameID.
func New(ctx context.Context, cfg Config, client Client, player Player, gameID string) *Worker {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	wctx, cancel := context.WithCancel(ctx)
	return &Worker{
		id:     gameID,
		client: client,
		player: player,
		logger: svcfields.WithSubsystem(cfg.Logger, "game").With("game_id", gameID),
		clk:    cfg.Clock,
		delay:  cfg.ReconnectDelay,
		ctx:    wctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the worker's run goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Wait blocks until the session has reached a terminal status or the
// worker's context was cancelled.
func (w *Worker) Wait() {
	<-w.done
}

// Stop cancels the worker; Wait returns once the stream consumer exits.
func (w *Worker) Stop() {
	w.cancel()
}

// Aborted reports whether the session ended by abort. Valid after Wait.
func (w *Worker) Aborted() bool {
	return w.aborted
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancel()
	for {
		if w.ctx.Err() != nil {
			return
		}
		updates, err := w.client.StreamGame(w.ctx, w.id)
		if err != nil {
			w.logger.Warn("seatd.game.stream_failed", "error", err)
			if !w.pause() {
				return
			}
			continue
		}
		for update := range updates {
			if w.handle(update) {
				return
			}
		}
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Warn("seatd.game.stream_lost")
		if !w.pause() {
			return
		}
	}
}

func (w *Worker) pause() bool {
	select {
	case <-w.ctx.Done():
		return false
	case <-w.clk.After(w.delay):
		return true
	}
}

// handle processes one update; true means the session is over.
func (w *Worker) handle(update arena.GameUpdate) bool {
	switch update.Type {
	case arena.GameUpdateFull:
		if !w.started {
			w.started = true
			w.logger.Info("seatd.game.started")
		}
		if update.State != nil {
			w.moveCount = countMoves(update.State.Moves)
			if update.State.Status != arena.StatusStarted {
				return w.finish(update.State.Status, update.State.Winner)
			}
		}
		w.act(update)
	case arena.GameUpdateState:
		w.moveCount = countMoves(update.Moves)
		if update.Status != arena.StatusStarted {
			return w.finish(update.Status, update.Winner)
		}
		w.act(update)
	case arena.GameUpdateChat:
		w.logChat(update)
	case arena.GamePing:
		w.pingCount++
		if w.pingCount >= abortPingThreshold && w.moveCount < abortableMoveLimit {
			if w.abortCount >= maxAbortAttempts {
				w.logger.Warn("seatd.game.abandoned", "abort_attempts", w.abortCount)
				w.aborted = true
				return true
			}
			if err := w.client.AbortGame(w.ctx, w.id); err != nil {
				w.logger.Warn("seatd.game.abort_failed", "error", err)
			}
			w.abortCount++
		}
	default:
		w.logger.Debug("seatd.game.unhandled", "type", update.Type)
	}
	return false
}

func (w *Worker) finish(status, winner string) bool {
	w.aborted = status == arena.StatusAborted
	w.logger.Info("seatd.game.finished",
		"status", status,
		"winner", winner,
		"moves", w.moveCount)
	return true
}

func (w *Worker) act(update arena.GameUpdate) {
	if w.player == nil {
		return
	}
	action := w.player.React(update)
	if action == nil {
		return
	}
	if action.Resign {
		if err := w.client.ResignGame(w.ctx, w.id); err != nil {
			w.logger.Warn("seatd.game.resign_failed", "error", err)
		}
		return
	}
	if action.Move == "" {
		return
	}
	if err := w.client.SendMove(w.ctx, w.id, action.Move, action.OfferDraw); err != nil {
		w.logger.Warn("seatd.game.move_failed", "move", action.Move, "error", err)
	}
}

func (w *Worker) logChat(update arena.GameUpdate) {
	w.logger.Info("seatd.game.chat",
		"from", update.Username,
		"room", update.Room,
		"text", update.Text)
}

func countMoves(moves string) int {
	if moves == "" {
		return 0
	}
	return len(strings.Fields(moves))
}

// Factory builds workers sharing one client and configuration.
type Factory struct {
	ctx    context.Context
	cfg    Config
	client Client
	player Player
}

// NewFactory assembles a worker factory. ctx bounds every worker it builds.
func NewFactory(ctx context.Context, cfg Config, client Client, player Player) *Factory {
	return &Factory{ctx: ctx, cfg: cfg, client: client, player: player}
}

// New constructs a worker for gameID.
func (f *Factory) New(gameID string) *Worker {
	return New(f.ctx, f.cfg, f.client, f.player, gameID)
}
