package matchmaking

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/clock"
)

// backoffFactor scales a finished game pair's duration into the cooldown
// before the same opponent is challenged again.
const backoffFactor = 20

// ratingValue is one opponent's cooldown state in one rating category.
type ratingValue struct {
	ReleaseTime time.Time `json:"release_time"`
	Multiplier  int       `json:"multiplier"`
}

type opponentRecord struct {
	Username string                 `json:"username"`
	Perfs    map[string]ratingValue `json:"perfs"`
}

// opponentStore tracks per-opponent release times within one rating
// category and persists them across restarts. Repeated failures against the
// same opponent grow the multiplier, stretching the cooldown; wins shrink
// it again.
type opponentStore struct {
	path              string
	perfType          string
	estimatedDuration time.Duration
	clk               clock.Clock
	logger            pslog.Logger

	records []opponentRecord
}

func newOpponentStore(path, perfType string, estimatedDuration time.Duration, clk clock.Clock, logger pslog.Logger) *opponentStore {
	s := &opponentStore{
		path:              path,
		perfType:          perfType,
		estimatedDuration: estimatedDuration,
		clk:               clk,
		logger:            logger,
	}
	s.load()
	return s
}

// released reports whether the opponent may be challenged now. Unknown
// opponents are always released.
func (s *opponentStore) released(username string) bool {
	rec := s.find(username)
	if rec == nil {
		return true
	}
	value, ok := rec.Perfs[s.perfType]
	if !ok {
		return true
	}
	return !value.ReleaseTime.After(s.clk.Now())
}

// addTimeout records the outcome of a game pair against the opponent and
// pushes its release time into the future.
func (s *opponentStore) addTimeout(username string, success bool, gameDuration time.Duration) {
	rec := s.findOrCreate(username)
	value := rec.Perfs[s.perfType]
	if value.Multiplier == 0 {
		value.Multiplier = 1
	}

	if success && value.Multiplier > 1 {
		value.Multiplier /= 2
	} else if !success {
		value.Multiplier++
	}

	effective := 1
	if value.Multiplier >= 5 {
		effective = value.Multiplier
	}
	ratio := float64(gameDuration) / float64(s.estimatedDuration)
	timeout := time.Duration(ratio * ratio * float64(s.estimatedDuration) * backoffFactor * float64(effective))

	now := s.clk.Now()
	if value.ReleaseTime.After(now) {
		timeout += value.ReleaseTime.Sub(now)
	}
	value.ReleaseTime = now.Add(timeout)
	rec.Perfs[s.perfType] = value

	s.logger.Info("seatd.matchmaking.cooldown",
		"opponent", username,
		"perf", s.perfType,
		"multiplier", value.Multiplier,
		"release", value.ReleaseTime.Format(time.RFC3339),
		"release_in", humanize.RelTime(now, value.ReleaseTime, "", ""))

	s.save()
}

// reset releases opponents again. Without full, only opponents at the base
// multiplier are released; repeated offenders keep their cooldown.
func (s *opponentStore) reset(full bool) {
	now := s.clk.Now()
	for i := range s.records {
		value, ok := s.records[i].Perfs[s.perfType]
		if !ok {
			continue
		}
		if full || value.Multiplier <= 1 {
			value.ReleaseTime = now
			s.records[i].Perfs[s.perfType] = value
		}
	}
	s.logger.Info("seatd.matchmaking.reset", "full", full)
	s.save()
}

func (s *opponentStore) find(username string) *opponentRecord {
	for i := range s.records {
		if s.records[i].Username == username {
			return &s.records[i]
		}
	}
	return nil
}

func (s *opponentStore) findOrCreate(username string) *opponentRecord {
	if rec := s.find(username); rec != nil {
		if rec.Perfs == nil {
			rec.Perfs = make(map[string]ratingValue)
		}
		return rec
	}
	s.records = append(s.records, opponentRecord{
		Username: username,
		Perfs:    make(map[string]ratingValue),
	})
	return &s.records[len(s.records)-1]
}

func (s *opponentStore) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("seatd.matchmaking.store.load_failed", "path", s.path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.logger.Warn("seatd.matchmaking.store.corrupt", "path", s.path, "error", err)
		s.records = nil
	}
}

func (s *opponentStore) save() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		s.logger.Warn("seatd.matchmaking.store.encode_failed", "error", err)
		return
	}
	tmp := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("seatd.matchmaking.store.save_failed", "path", s.path, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Warn("seatd.matchmaking.store.save_failed", "path", s.path, "error", err)
	}
}
