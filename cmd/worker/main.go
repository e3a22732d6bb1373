package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"schoolattend/internal/capture"
	"schoolattend/internal/config"
	"schoolattend/internal/faceclient"
	"schoolattend/internal/logging"
	"schoolattend/internal/queue"
	"schoolattend/internal/store"
)

// Worker consumes queued captures, asks the face service for a match score
// and publishes the result for the API to record.
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel).With("component", "score-worker")

	if cfg.QueueBackend != "redis" {
		logger.Error("the score worker needs QUEUE_BACKEND=redis; with the memory queue the API scores in process")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		logger.Error("redis not reachable", "addr", cfg.RedisAddr)
		os.Exit(1)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceTimeout)
	if err := face.Health(ctx); err != nil {
		logger.Warn("face service not available, captures will fail until it is", "error", err)
	} else {
		logger.Info("face service connected", "url", cfg.FaceServiceURL)
	}

	w := capture.NewScoreWorker(
		queue.NewRedisQueue(rdb.Client, cfg.CaptureQueue),
		queue.NewRedisQueue(rdb.Client, cfg.ScoredQueue),
		face,
		logger,
	)
	if err := w.Run(ctx); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
