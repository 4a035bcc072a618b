package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mcdev12/typeracer/go/clients/quotable_client"
	"github.com/mcdev12/typeracer/go/internal/race/hub"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultText = "The quick brown fox jumps over the lazy dog while the five boxing wizards jump quickly."

var storeKinds = []string{"memory", "sqlite", "postgres"}

type Config struct {
	bind           string
	port           int
	publicURL      string
	allowedOrigins []string

	storeKind  string
	sqlitePath string

	quotable     bool
	quotableURL  string
	quoteFile    string
	quoteBank    bool
	fallbackText string

	natsURL string

	countdown          int
	raceDuration       time.Duration
	endWhenAllFinished bool

	verbose bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if !slices.Contains(storeKinds, c.storeKind) {
		return fmt.Errorf("invalid store %q (must be one of %s)", c.storeKind, strings.Join(storeKinds, ", "))
	}
	if c.storeKind == "sqlite" && c.sqlitePath == "" {
		return errors.New("--sqlite-path is required with --store sqlite")
	}
	if c.countdown < 0 {
		return fmt.Errorf("invalid countdown: %d", c.countdown)
	}
	if c.raceDuration < time.Second {
		return fmt.Errorf("race duration must be at least 1s: %s", c.raceDuration)
	}
	return nil
}

func (c *Config) addr() string {
	return fmt.Sprintf("%s:%d", c.bind, c.port)
}

func (c *Config) hubConfig() hub.Config {
	return hub.Config{
		CountdownFrom:      c.countdown,
		RaceDuration:       c.raceDuration,
		EndWhenAllFinished: c.endWhenAllFinished,
	}
}

func newCmd(cfg *Config, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TYPERACE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "typerace",
		Short:         "Real-time multiplayer typing race server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			if cfg.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	defaults := hub.DefaultConfig()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TYPERACE_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TYPERACE_PORT)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "base URL used in join links, derived from the request when empty (env: TYPERACE_PUBLIC_URL)")
	fs.StringSliceVar(&cfg.allowedOrigins, "allowed-origins", nil, "comma-separated CORS origins, any when empty (env: TYPERACE_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.storeKind, "store", "memory", "session store: memory, sqlite or postgres (env: TYPERACE_STORE)")
	fs.StringVar(&cfg.sqlitePath, "sqlite-path", "typerace.db", "sqlite database file (env: TYPERACE_SQLITE_PATH)")
	fs.BoolVar(&cfg.quotable, "quotable", true, "fetch race texts from the quotable API (env: TYPERACE_QUOTABLE)")
	fs.StringVar(&cfg.quotableURL, "quotable-url", quotable_client.BaseURL, "quotable API base URL (env: TYPERACE_QUOTABLE_URL)")
	fs.StringVar(&cfg.quoteFile, "quote-file", "", "YAML quote file used when the API is unavailable (env: TYPERACE_QUOTE_FILE)")
	fs.BoolVar(&cfg.quoteBank, "quote-bank", false, "draw texts from the postgres quotes table, using DB_* settings (env: TYPERACE_QUOTE_BANK)")
	fs.StringVar(&cfg.fallbackText, "fallback-text", defaultText, "text used when every other source fails (env: TYPERACE_FALLBACK_TEXT)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "publish race events to NATS JetStream at this URL, log them when empty (env: TYPERACE_NATS_URL)")
	fs.IntVar(&cfg.countdown, "countdown", defaults.CountdownFrom, "countdown length in seconds (env: TYPERACE_COUNTDOWN)")
	fs.DurationVar(&cfg.raceDuration, "race-duration", defaults.RaceDuration, "length of the race clock (env: TYPERACE_RACE_DURATION)")
	fs.BoolVar(&cfg.endWhenAllFinished, "end-when-all-finished", defaults.EndWhenAllFinished, "finish the race once every player is done (env: TYPERACE_END_WHEN_ALL_FINISHED)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TYPERACE_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("typerace v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
