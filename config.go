package seatd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/arena"
	"pkt.systems/seatd/internal/events"
	"pkt.systems/seatd/internal/matchmaking"
	"pkt.systems/seatd/internal/sched"
)

const (
	// DefaultMaxGames caps concurrent game sessions, reserved seats included.
	DefaultMaxGames = sched.DefaultMaxGames
	// DefaultMatchmakingDelay is how long the scheduler idles before trying
	// a proactive challenge.
	DefaultMatchmakingDelay = sched.DefaultMatchmakingDelay
	// DefaultBaseURL points at the public arena instance.
	DefaultBaseURL = arena.DefaultBaseURL
	// DefaultHTTPTimeout bounds plain (non-streaming) arena calls.
	DefaultHTTPTimeout = arena.DefaultTimeout
	// DefaultControlPath is the operator command file the control watcher
	// tails. Empty disables the control surface.
	DefaultControlPath = "seatd.ctl"
	// DefaultMetricsListen is the Prometheus scrape endpoint. Empty disables
	// metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultChallengeTimeout bounds one outbound challenge creation.
	DefaultChallengeTimeout = 30 * time.Second
	// DefaultMatchmakingStorePath persists opponent cooldowns.
	DefaultMatchmakingStorePath = matchmaking.DefaultStorePath
	// DefaultEventReconnectDelay spaces out account-stream reconnects.
	DefaultEventReconnectDelay = events.DefaultReconnectDelay
)

// ChallengeConfig is the inbound challenge acceptance policy.
type ChallengeConfig struct {
	// Variants lists acceptable variant keys (e.g. "standard").
	Variants []string `yaml:"variants"`
	// TimeControls lists acceptable speeds (e.g. "blitz", "rapid").
	TimeControls []string `yaml:"time_controls"`
	// BotModes and HumanModes list acceptable game modes ("rated",
	// "casual") per challenger kind. An empty list rejects that kind.
	BotModes   []string `yaml:"bot_modes"`
	HumanModes []string `yaml:"human_modes"`
	// BulletWithIncrementOnly rejects zero-increment bullet.
	BulletWithIncrementOnly bool `yaml:"bullet_with_increment_only"`
	MinInitial              int  `yaml:"min_initial"`
	MaxInitial              int  `yaml:"max_initial"`
	MinIncrement            int  `yaml:"min_increment"`
	MaxIncrement            int  `yaml:"max_increment"`
}

// MatchmakingConfig drives proactive challenge creation.
type MatchmakingConfig struct {
	// Enabled starts the service with matchmaking on. It can be toggled at
	// runtime through the control file.
	Enabled     bool   `yaml:"enabled"`
	Variant     string `yaml:"variant"`
	InitialTime int    `yaml:"initial_time"`
	Increment   int    `yaml:"increment"`
	Rated       bool   `yaml:"rated"`
	// Timeout bounds one creation attempt.
	Timeout       time.Duration `yaml:"timeout"`
	MinRatingDiff int           `yaml:"min_rating_diff"`
	MaxRatingDiff int           `yaml:"max_rating_diff"`
	// StorePath persists opponent cooldowns across restarts.
	StorePath string `yaml:"store_path"`
	// RefreshInterval spaces out online-bot and rating refreshes.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Config is the full service configuration.
type Config struct {
	// Token is the arena bearer token. TokenFile reads it from a file
	// instead; exactly one of the two must be set.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
	// BaseURL is the arena service root.
	BaseURL string `yaml:"base_url"`
	// MaxGames caps concurrent game sessions.
	MaxGames int `yaml:"max_games"`
	// MatchmakingDelay is the scheduler's idle window before a proactive
	// attempt.
	MatchmakingDelay time.Duration `yaml:"matchmaking_delay"`
	// HTTPTimeout bounds plain arena calls.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// EventReconnectDelay spaces out account-stream reconnects.
	EventReconnectDelay time.Duration `yaml:"event_reconnect_delay"`

	Challenge   ChallengeConfig   `yaml:"challenge"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`

	// ControlPath is the operator command file. Empty disables it.
	ControlPath string `yaml:"control_path"`

	MetricsListen  string `yaml:"metrics_listen"`
	PprofListen    string `yaml:"pprof_listen"`
	RuntimeMetrics bool   `yaml:"runtime_metrics"`

	Logger pslog.Logger `yaml:"-"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// YAML renders the configuration, secrets redacted.
func (c Config) YAML() (string, error) {
	redacted := c
	if redacted.Token != "" {
		redacted.Token = "REDACTED"
	}
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// withDefaults returns the configuration with unset fields filled in.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxGames < 1 {
		c.MaxGames = DefaultMaxGames
	}
	if c.MatchmakingDelay <= 0 {
		c.MatchmakingDelay = DefaultMatchmakingDelay
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.EventReconnectDelay <= 0 {
		c.EventReconnectDelay = DefaultEventReconnectDelay
	}
	if c.Matchmaking.Timeout <= 0 {
		c.Matchmaking.Timeout = DefaultChallengeTimeout
	}
	if c.Matchmaking.StorePath == "" {
		c.Matchmaking.StorePath = DefaultMatchmakingStorePath
	}
	if c.Logger == nil {
		c.Logger = pslog.NoopLogger()
	}
	return c
}

// Validate reports configuration errors a server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Token) == "" && strings.TrimSpace(c.TokenFile) == "" {
		errs = append(errs, errors.New("config: token or token_file required"))
	}
	if strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.TokenFile) != "" {
		errs = append(errs, errors.New("config: token and token_file are mutually exclusive"))
	}
	if c.Matchmaking.Enabled {
		if c.Matchmaking.InitialTime <= 0 {
			errs = append(errs, errors.New("config: matchmaking.initial_time must be positive"))
		}
		if c.Matchmaking.Increment < 0 {
			errs = append(errs, errors.New("config: matchmaking.increment must not be negative"))
		}
		if c.Matchmaking.MaxRatingDiff > 0 && c.Matchmaking.MaxRatingDiff < c.Matchmaking.MinRatingDiff {
			errs = append(errs, errors.New("config: matchmaking rating window is inverted"))
		}
	}
	if c.Challenge.MaxInitial > 0 && c.Challenge.MaxInitial < c.Challenge.MinInitial {
		errs = append(errs, errors.New("config: challenge initial-time window is inverted"))
	}
	if c.Challenge.MaxIncrement > 0 && c.Challenge.MaxIncrement < c.Challenge.MinIncrement {
		errs = append(errs, errors.New("config: challenge increment window is inverted"))
	}
	return errors.Join(errs...)
}

// resolveToken returns the bearer token, reading TokenFile when set.
func (c Config) resolveToken() (string, error) {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token, nil
	}
	path := strings.TrimSpace(c.TokenFile)
	if path == "" {
		return "", errors.New("config: no token configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
