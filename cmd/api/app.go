package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/yourusername/reel-forge/internal/bitrate"
	"github.com/yourusername/reel-forge/internal/config"
)

var version = "dev"

// App はコマンドラインアプリケーションを組み立てます。サブコマンド省略時は serve を実行します。
func App() *cli.Command {
	return &cli.Command{
		Name:    "reel-forge",
		Version: version,
		Usage:   "Bulk video transcoding jobs over HTTP",
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the API server and job workers",
				Action: serveAction,
			},
			profilesCmd(),
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return serve(ctx, cfg, newLogger(cfg))
}

func profilesCmd() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "Manage bitrate quality profiles",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Derive max/balanced/low/min profiles from high_quality.json",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Usage:   "Directory containing high_quality.json",
						Value:   "bitrate_configs",
						Sources: cli.EnvVars("BITRATE_PROFILE_DIR"),
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					written, err := bitrate.GenerateProfiles(cmd.String("dir"))
					if err != nil {
						return fmt.Errorf("generate profiles: %w", err)
					}
					for _, path := range written {
						fmt.Fprintln(os.Stdout, path)
					}
					return nil
				},
			},
		},
	}
}

// newLogger は LOG_LEVEL / LOG_FORMAT に従ってロガーを作成します。
func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.LogFormat == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Str("service", "reel-forge").Logger()
}
