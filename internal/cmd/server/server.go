// Package server parses server command flags and composes the service entrypoint.
package server

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/mbucher/tilehall/internal/platform/cmd"
	app "github.com/mbucher/tilehall/internal/server"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr          string        `env:"TILEHALL_HTTP_ADDR"          envDefault:":8080"`
	DBPath            string        `env:"TILEHALL_DB_PATH"            envDefault:"tilehall.db"`
	HeartbeatInterval time.Duration `env:"TILEHALL_HEARTBEAT_INTERVAL" envDefault:"30s"`
	GracePeriod       time.Duration `env:"TILEHALL_GRACE_PERIOD"       envDefault:"2m"`
	VoteTimeout       time.Duration `env:"TILEHALL_VOTE_TIMEOUT"       envDefault:"1m"`
	AbandonmentWindow time.Duration `env:"TILEHALL_ABANDONMENT_WINDOW" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path, empty disables persistence")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "ping cadence per connection")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "wait before a continuation vote opens")
	fs.DurationVar(&cfg.VoteTimeout, "vote-timeout", cfg.VoteTimeout, "continuation vote window")
	fs.DurationVar(&cfg.AbandonmentWindow, "abandonment-window", cfg.AbandonmentWindow, "recovery window after all players disconnect")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the continuity service and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:          cfg.HTTPAddr,
			DBPath:            cfg.DBPath,
			HeartbeatInterval: cfg.HeartbeatInterval,
			GracePeriod:       cfg.GracePeriod,
			VoteTimeout:       cfg.VoteTimeout,
			AbandonmentWindow: cfg.AbandonmentWindow,
		}); err != nil {
			return fmt.Errorf("serve continuity: %w", err)
		}
		return nil
	})
}
