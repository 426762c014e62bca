package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"
	"pkt.systems/seatd"
	"pkt.systems/seatd/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("SEATD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "seatd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "seatd",
		Short:         "seatd plays games on a remote arena: it accepts screened challenges, creates its own when idle, and keeps concurrent sessions under a seat limit",
		SilenceErrors: true,
		Example: `
  # Token from the environment, defaults otherwise
  SEATD_TOKEN=lip_... seatd

  # Config file with matchmaking and challenge policy
  seatd --config /etc/seatd/seatd.yaml

  # Two concurrent games, matchmaking on, metrics exposed
  seatd --token-file ~/.seatd-token --max-games 2 --matchmaking --metrics-listen :9606
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := loadConfigFile(); err != nil {
				return err
			}
			cfg, err := buildConfig(baseLogger)
			if err != nil {
				return err
			}
			srv, err := seatd.New(cfg)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("token", "", "arena bearer token")
	flags.String("token-file", "", "file containing the arena bearer token")
	flags.String("url", seatd.DefaultBaseURL, "arena base URL")
	flags.Int("max-games", seatd.DefaultMaxGames, "maximum concurrent game sessions, reserved seats included")
	flags.Duration("matchmaking-delay", seatd.DefaultMatchmakingDelay, "idle window before a proactive challenge attempt")
	flags.Duration("http-timeout", seatd.DefaultHTTPTimeout, "timeout for plain arena calls")
	flags.Bool("matchmaking", false, "start with proactive matchmaking enabled")
	flags.String("control-file", seatd.DefaultControlPath, "operator command file (empty disables)")
	flags.String("metrics-listen", seatd.DefaultMetricsListen, "Prometheus metrics listen address (empty disables)")
	flags.String("pprof-listen", seatd.DefaultPprofListen, "pprof listen address (empty disables)")
	flags.Bool("runtime-metrics", false, "export Go runtime metrics (requires --metrics-listen)")

	viper.SetEnvPrefix("SEATD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	bindFlag(flags, "config", "config")
	bindFlag(flags, "token", "token")
	bindFlag(flags, "token_file", "token-file")
	bindFlag(flags, "base_url", "url")
	bindFlag(flags, "max_games", "max-games")
	bindFlag(flags, "matchmaking_delay", "matchmaking-delay")
	bindFlag(flags, "http_timeout", "http-timeout")
	bindFlag(flags, "matchmaking.enabled", "matchmaking")
	bindFlag(flags, "control_path", "control-file")
	bindFlag(flags, "metrics_listen", "metrics-listen")
	bindFlag(flags, "pprof_listen", "pprof-listen")
	bindFlag(flags, "runtime_metrics", "runtime-metrics")

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newConfigCommand(baseLogger))
	return cmd
}

func bindFlag(flags *pflag.FlagSet, key, name string) {
	flag := flags.Lookup(name)
	if flag == nil {
		panic(fmt.Sprintf("flag %q not found", name))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func loadConfigFile() error {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return nil
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return fmt.Errorf("resolve config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("config file %q: %w", abs, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %q is a directory", abs)
	}
	viper.SetConfigFile(abs)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", abs, err)
	}
	return nil
}

func buildConfig(logger pslog.Logger) (seatd.Config, error) {
	cfg := seatd.Config{
		Token:               viper.GetString("token"),
		TokenFile:           viper.GetString("token_file"),
		BaseURL:             viper.GetString("base_url"),
		MaxGames:            viper.GetInt("max_games"),
		MatchmakingDelay:    viper.GetDuration("matchmaking_delay"),
		HTTPTimeout:         viper.GetDuration("http_timeout"),
		EventReconnectDelay: viper.GetDuration("event_reconnect_delay"),
		ControlPath:         viper.GetString("control_path"),
		MetricsListen:       viper.GetString("metrics_listen"),
		PprofListen:         viper.GetString("pprof_listen"),
		RuntimeMetrics:      viper.GetBool("runtime_metrics"),
		Logger:              logger,
	}

	cfg.Challenge = seatd.ChallengeConfig{
		Variants:                viper.GetStringSlice("challenge.variants"),
		TimeControls:            viper.GetStringSlice("challenge.time_controls"),
		BotModes:                viper.GetStringSlice("challenge.bot_modes"),
		HumanModes:              viper.GetStringSlice("challenge.human_modes"),
		BulletWithIncrementOnly: viper.GetBool("challenge.bullet_with_increment_only"),
		MinInitial:              viper.GetInt("challenge.min_initial"),
		MaxInitial:              viper.GetInt("challenge.max_initial"),
		MinIncrement:            viper.GetInt("challenge.min_increment"),
		MaxIncrement:            viper.GetInt("challenge.max_increment"),
	}

	cfg.Matchmaking = seatd.MatchmakingConfig{
		Enabled:         viper.GetBool("matchmaking.enabled"),
		Variant:         viper.GetString("matchmaking.variant"),
		InitialTime:     viper.GetInt("matchmaking.initial_time"),
		Increment:       viper.GetInt("matchmaking.increment"),
		Rated:           viper.GetBool("matchmaking.rated"),
		Timeout:         viper.GetDuration("matchmaking.timeout"),
		MinRatingDiff:   viper.GetInt("matchmaking.min_rating_diff"),
		MaxRatingDiff:   viper.GetInt("matchmaking.max_rating_diff"),
		StorePath:       viper.GetString("matchmaking.store_path"),
		RefreshInterval: viper.GetDuration("matchmaking.refresh_interval"),
	}
	return cfg, nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
