package control

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"
)

type recordingTarget struct {
	mu      sync.Mutex
	toggles []bool
	resets  []bool
}

func (t *recordingTarget) SetMatchmaking(enabled bool) {
	t.mu.Lock()
	t.toggles = append(t.toggles, enabled)
	t.mu.Unlock()
}

func (t *recordingTarget) ResetMatchmaking(full bool) {
	t.mu.Lock()
	t.resets = append(t.resets, full)
	t.mu.Unlock()
}

func (t *recordingTarget) toggleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.toggles)
}

func commandLine(cmd string) string {
	return uuid.NewString() + " " + cmd + "\n"
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

func startWatcher(t *testing.T, path string, target Target) {
	t.Helper()
	w := NewWatcher(path, target, pslog.NoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Let the directory watch engage before the test writes commands.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherAppliesCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatd.ctl")
	target := &recordingTarget{}
	startWatcher(t, path, target)

	appendFile(t, path, commandLine("matchmaking on"))
	waitFor(t, func() bool { return target.toggleCount() == 1 }, "toggle applied")

	target.mu.Lock()
	defer target.mu.Unlock()
	if !target.toggles[0] {
		t.Fatal("want matchmaking enabled")
	}
}

func TestWatcherResetVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatd.ctl")
	target := &recordingTarget{}
	startWatcher(t, path, target)

	appendFile(t, path, commandLine("matchmaking reset"))
	appendFile(t, path, commandLine("matchmaking reset full"))
	waitFor(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return len(target.resets) == 2
	}, "both resets applied")

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.resets[0] || !target.resets[1] {
		t.Fatalf("resets = %v, want [false true]", target.resets)
	}
}

func TestWatcherDeduplicatesNonces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatd.ctl")
	target := &recordingTarget{}
	startWatcher(t, path, target)

	line := commandLine("matchmaking off")
	appendFile(t, path, line)
	waitFor(t, func() bool { return target.toggleCount() == 1 }, "first apply")

	// Rewriting the same line plus a new command must apply only the new one.
	appendFile(t, path, line+commandLine("matchmaking on"))
	waitFor(t, func() bool { return target.toggleCount() == 2 }, "second apply")

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.toggles[0] != false || target.toggles[1] != true {
		t.Fatalf("toggles = %v", target.toggles)
	}
}

func TestWatcherSkipsPreexistingCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatd.ctl")
	appendFile(t, path, commandLine("matchmaking on"))

	target := &recordingTarget{}
	startWatcher(t, path, target)

	appendFile(t, path, commandLine("matchmaking off"))
	waitFor(t, func() bool { return target.toggleCount() == 1 }, "only the new command applies")

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.toggles[0] {
		t.Fatal("the pre-existing enable must not replay")
	}
}

func TestWatcherIgnoresMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatd.ctl")
	target := &recordingTarget{}
	startWatcher(t, path, target)

	appendFile(t, path, "# comment\nnot-a-uuid matchmaking on\n"+commandLine("bogus command")+commandLine("matchmaking on"))
	waitFor(t, func() bool { return target.toggleCount() == 1 }, "valid command applies")

	if len(target.resets) != 0 {
		t.Fatalf("resets = %v, want none", target.resets)
	}
}
