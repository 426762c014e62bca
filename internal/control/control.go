// Package control watches a command file and applies operator commands to
// the running service. Each line is a one-shot command prefixed with a UUID
// nonce; nonces already seen are skipped, so the file can be appended to or
// rewritten without replaying old commands.
//
// Line format:
//
//	<uuid> matchmaking on
//	<uuid> matchmaking off
//	<uuid> matchmaking reset [full]
package control

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/svcfields"
)

// Target receives the commands the watcher parses.
type Target interface {
	// SetMatchmaking toggles proactive matchmaking. Turning it on also
	// clears a rate-limit disable.
	SetMatchmaking(enabled bool)
	// ResetMatchmaking releases opponent cooldowns.
	ResetMatchmaking(full bool)
}

// Watcher tails one control file for commands.
type Watcher struct {
	path   string
	target Target
	logger pslog.Logger
	seen   map[uuid.UUID]struct{}
}

// NewWatcher assembles a watcher for path. Commands already in the file are
// marked seen without being executed, so a restart does not replay them.
func NewWatcher(path string, target Target, logger pslog.Logger) *Watcher {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	w := &Watcher{
		path:   path,
		target: target,
		logger: svcfields.WithSubsystem(logger, "control"),
		seen:   make(map[uuid.UUID]struct{}),
	}
	w.scan(false)
	return w
}

// Run watches the control file until ctx is cancelled. The parent directory
// is watched so the file may be deleted and recreated.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	w.logger.Info("seatd.control.watching", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scan(true)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("seatd.control.watch_error", "error", err)
		}
	}
}

// scan reads the control file and handles unseen command lines in order.
// With execute false the nonces are only recorded.
func (w *Watcher) scan(execute bool) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("seatd.control.read_failed", "path", w.path, "error", err)
		}
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		nonce, err := uuid.Parse(fields[0])
		if err != nil {
			w.logger.Warn("seatd.control.bad_nonce", "line", line)
			continue
		}
		if _, dup := w.seen[nonce]; dup {
			continue
		}
		w.seen[nonce] = struct{}{}
		if !execute {
			continue
		}
		w.apply(nonce, fields[1:])
	}
}

func (w *Watcher) apply(nonce uuid.UUID, args []string) {
	if len(args) < 2 || args[0] != "matchmaking" {
		w.logger.Warn("seatd.control.unknown_command",
			"nonce", nonce.String(),
			"args", strings.Join(args, " "))
		return
	}
	switch args[1] {
	case "on":
		w.target.SetMatchmaking(true)
	case "off":
		w.target.SetMatchmaking(false)
	case "reset":
		full := len(args) > 2 && args[2] == "full"
		w.target.ResetMatchmaking(full)
	default:
		w.logger.Warn("seatd.control.unknown_command",
			"nonce", nonce.String(),
			"args", strings.Join(args, " "))
		return
	}
	w.logger.Info("seatd.control.applied",
		"nonce", nonce.String(),
		"command", strings.Join(args, " "))
}
