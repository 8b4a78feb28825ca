package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/mkdw/soulsync/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	// A local .env can supply DATABASE_PATH, FPCALC, SOULSYNC_CONFIG_PATH.
	_ = godotenv.Load()

	config := shared.DefaultConfig()
	path := shared.ResolveConfigPath("config.toml")
	if _, err := os.Stat(path); err == nil {
		if loaded, err := shared.LoadConfig(path); err == nil {
			config = loaded
		} else {
			logger.Warn("failed to load config, using defaults", "path", path, "error", err)
		}
	}

	runner := NewRunner(RunnerOpts{
		Config: config,
		Logger: logger,
		Output: os.Stdout,
	})

	app := &cli.Command{
		Name:     "soulsync",
		Usage:    "Find missing playlist tracks and acquire them from the Soulseek network",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrMissingConfig) {
			logger.Error("configuration missing; run `soulsync setup` first", "error", err)
			os.Exit(1)
		}
		logger.Fatalf("application error: %v", err)
	}
}
