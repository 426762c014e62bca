package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/arena"
	"pkt.systems/seatd/internal/clock"
)

type fakeClient struct {
	updates [][]arena.GameUpdate

	mu       sync.Mutex
	streams  int
	aborts   int
	resigns  int
	moves    []string
	chats    []string
	abortErr error
}

func (c *fakeClient) StreamGame(ctx context.Context, gameID string) (<-chan arena.GameUpdate, error) {
	c.mu.Lock()
	var batch []arena.GameUpdate
	if c.streams < len(c.updates) {
		batch = c.updates[c.streams]
	}
	c.streams++
	c.mu.Unlock()

	out := make(chan arena.GameUpdate)
	go func() {
		defer close(out)
		for _, u := range batch {
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *fakeClient) AbortGame(ctx context.Context, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts++
	return c.abortErr
}

func (c *fakeClient) ResignGame(ctx context.Context, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resigns++
	return nil
}

func (c *fakeClient) SendMove(ctx context.Context, gameID, uciMove string, offerDraw bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, uciMove)
	return nil
}

func (c *fakeClient) SendChat(ctx context.Context, gameID, room, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append(c.chats, text)
	return nil
}

func (c *fakeClient) abortCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborts
}

func gameFull(status string) arena.GameUpdate {
	return arena.GameUpdate{
		Type:  arena.GameUpdateFull,
		State: &arena.GameState{Status: status},
	}
}

func gameState(moves, status, winner string) arena.GameUpdate {
	return arena.GameUpdate{
		Type:   arena.GameUpdateState,
		Moves:  moves,
		Status: status,
		Winner: winner,
	}
}

func runWorker(t *testing.T, client *fakeClient, player Player) *Worker {
	t.Helper()
	w := New(context.Background(), Config{
		Logger: pslog.NoopLogger(),
		Clock:  clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}, client, player, "g1")
	w.Start()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		w.Stop()
		t.Fatal("worker did not finish")
	}
	return w
}

func TestWorkerFinishesOnTerminalState(t *testing.T) {
	client := &fakeClient{updates: [][]arena.GameUpdate{{
		gameFull(arena.StatusStarted),
		gameState("e2e4 e7e5 g1f3", arena.StatusStarted, ""),
		gameState("e2e4 e7e5 g1f3 b8c6", "mate", "white"),
	}}}

	w := runWorker(t, client, nil)
	if w.Aborted() {
		t.Fatal("a mated game is not aborted")
	}
	if w.moveCount != 4 {
		t.Fatalf("moves = %d, want 4", w.moveCount)
	}
}

func TestWorkerReportsAbortedStatus(t *testing.T) {
	client := &fakeClient{updates: [][]arena.GameUpdate{{
		gameFull(arena.StatusStarted),
		gameState("", arena.StatusAborted, ""),
	}}}

	w := runWorker(t, client, nil)
	if !w.Aborted() {
		t.Fatal("an aborted status must be reported")
	}
}

func TestWorkerAbortsIdleGameAfterPings(t *testing.T) {
	updates := []arena.GameUpdate{gameFull(arena.StatusStarted)}
	for i := 0; i < abortPingThreshold+maxAbortAttempts; i++ {
		updates = append(updates, arena.GameUpdate{Type: arena.GamePing})
	}
	client := &fakeClient{updates: [][]arena.GameUpdate{updates}}

	w := runWorker(t, client, nil)
	if got := client.abortCount(); got != maxAbortAttempts {
		t.Fatalf("aborts = %d, want %d", got, maxAbortAttempts)
	}
	if !w.Aborted() {
		t.Fatal("an abandoned session counts as aborted")
	}
}

func TestWorkerDoesNotAbortGameWithMoves(t *testing.T) {
	updates := []arena.GameUpdate{
		gameFull(arena.StatusStarted),
		gameState("e2e4 e7e5", arena.StatusStarted, ""),
	}
	for i := 0; i < abortPingThreshold+1; i++ {
		updates = append(updates, arena.GameUpdate{Type: arena.GamePing})
	}
	updates = append(updates, gameState("e2e4 e7e5", "resign", "white"))
	client := &fakeClient{updates: [][]arena.GameUpdate{updates}}

	runWorker(t, client, nil)
	if got := client.abortCount(); got != 0 {
		t.Fatalf("aborts = %d, want 0 once real moves were played", got)
	}
}

func TestWorkerReconnectsUntilTerminal(t *testing.T) {
	client := &fakeClient{updates: [][]arena.GameUpdate{
		{gameFull(arena.StatusStarted)},
		{gameState("e2e4", "resign", "black")},
	}}
	w := New(context.Background(), Config{
		ReconnectDelay: time.Millisecond,
		Logger:         pslog.NoopLogger(),
	}, client, nil, "g1")
	w.Start()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		w.Stop()
		t.Fatal("worker did not reconnect to a terminal state")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.streams < 2 {
		t.Fatalf("streams = %d, want a reconnect", client.streams)
	}
}

type scriptedPlayer struct {
	actions map[string]*Action
}

func (p scriptedPlayer) React(update arena.GameUpdate) *Action {
	if update.Type != arena.GameUpdateState {
		return nil
	}
	return p.actions[update.Moves]
}

func TestWorkerRelaysPlayerMoves(t *testing.T) {
	client := &fakeClient{updates: [][]arena.GameUpdate{{
		gameFull(arena.StatusStarted),
		gameState("e2e4", arena.StatusStarted, ""),
		gameState("e2e4 e7e5", "draw", ""),
	}}}
	player := scriptedPlayer{actions: map[string]*Action{
		"e2e4": {Move: "e7e5"},
	}}

	runWorker(t, client, player)
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.moves) != 1 || client.moves[0] != "e7e5" {
		t.Fatalf("moves = %v, want [e7e5]", client.moves)
	}
}

func TestWorkerRelaysPlayerResign(t *testing.T) {
	client := &fakeClient{updates: [][]arena.GameUpdate{{
		gameFull(arena.StatusStarted),
		gameState("e2e4", arena.StatusStarted, ""),
		gameState("e2e4 e7e5", "resign", "white"),
	}}}
	player := scriptedPlayer{actions: map[string]*Action{
		"e2e4": {Resign: true},
	}}

	runWorker(t, client, player)
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.resigns != 1 {
		t.Fatalf("resigns = %d, want 1", client.resigns)
	}
	if len(client.moves) != 0 {
		t.Fatalf("moves = %v, want none", client.moves)
	}
}

func TestWorkerStopUnblocksWait(t *testing.T) {
	// A stream that stays open with no terminal update.
	client := &fakeClient{updates: [][]arena.GameUpdate{{gameFull(arena.StatusStarted)}}}
	w := New(context.Background(), Config{
		Logger: pslog.NoopLogger(),
		Clock:  clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}, client, nil, "g1")
	w.Start()
	time.Sleep(10 * time.Millisecond)
	w.Stop()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop must unblock Wait")
	}
}
