package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"schoolattend/internal/config"
	"schoolattend/internal/logging"
	"schoolattend/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	cli := commandLine{
		cfg:    cfg,
		out:    os.Stdout,
		logger: logging.New(os.Stderr, cfg.Env, cfg.LogLevel),
		open: func(ctx context.Context) (*store.Persistence, error) {
			return store.Open(ctx, store.Options{
				Backend:     cfg.PersistBackend,
				DatabaseURL: cfg.DatabaseURL,
				SQLiteDSN:   cfg.SQLiteDSN,
				RedisAddr:   cfg.RedisAddr,
			})
		},
	}
	if err := cli.run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			cli.logger.Error("command failed", "error", err)
		}
		os.Exit(1)
	}
}
