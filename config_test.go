package seatd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Token: "lip_token",
		Challenge: ChallengeConfig{
			Variants:     []string{"standard"},
			TimeControls: []string{"blitz"},
			BotModes:     []string{"rated", "casual"},
		},
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig().withDefaults()
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("base url = %q", cfg.BaseURL)
	}
	if cfg.MaxGames != DefaultMaxGames {
		t.Fatalf("max games = %d", cfg.MaxGames)
	}
	if cfg.MatchmakingDelay != DefaultMatchmakingDelay {
		t.Fatalf("matchmaking delay = %s", cfg.MatchmakingDelay)
	}
	if cfg.Matchmaking.StorePath != DefaultMatchmakingStorePath {
		t.Fatalf("store path = %q", cfg.Matchmaking.StorePath)
	}
	if cfg.Logger == nil {
		t.Fatal("logger must default to a noop")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Token = "" },
			wantErr: "token or token_file",
		},
		{
			name: "token and token file",
			mutate: func(c *Config) {
				c.TokenFile = "/tmp/token"
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "matchmaking without initial time",
			mutate: func(c *Config) {
				c.Matchmaking.Enabled = true
			},
			wantErr: "initial_time",
		},
		{
			name: "inverted rating window",
			mutate: func(c *Config) {
				c.Matchmaking.Enabled = true
				c.Matchmaking.InitialTime = 180
				c.Matchmaking.MinRatingDiff = 400
				c.Matchmaking.MaxRatingDiff = 100
			},
			wantErr: "rating window",
		},
		{
			name: "inverted challenge window",
			mutate: func(c *Config) {
				c.Challenge.MinInitial = 300
				c.Challenge.MaxInitial = 60
			},
			wantErr: "initial-time window",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestResolveTokenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("lip_filetoken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Config{TokenFile: path}
	token, err := cfg.resolveToken()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if token != "lip_filetoken" {
		t.Fatalf("token = %q", token)
	}
}

func TestResolveTokenEmptyFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Config{TokenFile: path}
	if _, err := cfg.resolveToken(); err == nil {
		t.Fatal("empty token file must fail")
	}
}

func TestLoadConfigRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatd.yaml")
	content := `
token: lip_token
max_games: 2
matchmaking_delay: 15s
matchmaking:
  enabled: true
  initial_time: 180
  increment: 2
challenge:
  variants: [standard, chess960]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxGames != 2 || cfg.MatchmakingDelay != 15*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Matchmaking.Enabled || cfg.Matchmaking.InitialTime != 180 {
		t.Fatalf("matchmaking = %+v", cfg.Matchmaking)
	}
	if len(cfg.Challenge.Variants) != 2 {
		t.Fatalf("variants = %v", cfg.Challenge.Variants)
	}
}

func TestYAMLRedactsToken(t *testing.T) {
	out, err := validConfig().YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if strings.Contains(out, "lip_token") {
		t.Fatal("token must be redacted")
	}
	if !strings.Contains(out, "REDACTED") {
		t.Fatalf("output = %q", out)
	}
}
