package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schoolattend/internal/academics"
	"schoolattend/internal/api"
	"schoolattend/internal/approval"
	"schoolattend/internal/attendance"
	"schoolattend/internal/capture"
	"schoolattend/internal/cloudinary"
	"schoolattend/internal/config"
	"schoolattend/internal/entitlement"
	"schoolattend/internal/faceclient"
	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
	"schoolattend/internal/metrics"
	"schoolattend/internal/queue"
	"schoolattend/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func idGenerator(scheme string) ledger.IDGenerator {
	if scheme != "uuid" {
		return nil
	}
	return func(prefix string) string { return prefix + "-" + uuid.NewString() }
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	persistence, err := store.Open(ctx, store.Options{
		Backend:     cfg.PersistBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLiteDSN:   cfg.SQLiteDSN,
		RedisAddr:   cfg.RedisAddr,
	})
	if err != nil {
		return err
	}
	defer func() { _ = persistence.Close() }()

	snap, err := store.Restore(ctx, persistence, store.SeedFile(cfg.SeedFile))
	if err != nil {
		return err
	}
	opts := []ledger.Option{ledger.WithLogger(logger)}
	if gen := idGenerator(cfg.IDScheme); gen != nil {
		opts = append(opts, ledger.WithIDGenerator(gen))
	}
	ledgerStore, err := ledger.New(snap, opts...)
	if err != nil {
		return err
	}
	logger.Info("ledger restored", "backend", persistence.Backend,
		"students", len(snap.Students), "attendance", len(snap.Attendance))

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceTimeout)
	if err := face.Health(ctx); err != nil {
		logger.Warn("face service not available", "error", err)
	}

	recorder := attendance.NewService(ledgerStore, face, cfg.VerifyThreshold, time.Now, logger)

	health := map[string]func(context.Context) bool{
		"face": func(ctx context.Context) bool { return face.Health(ctx) == nil },
	}
	var captures, scored queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		rdb := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		health["redis"] = rdb.Healthy
		captures = queue.NewRedisQueue(rdb.Client, cfg.CaptureQueue)
		scored = queue.NewRedisQueue(rdb.Client, cfg.ScoredQueue)
	default:
		captures, scored = queue.NewInMemory(256), queue.NewInMemory(256)
	}

	var photos *cloudinary.Client
	if c := cfg.Cloudinary; c.CloudName != "" {
		photos = cloudinary.New(c.CloudName, c.APIKey, c.APISecret, c.Folder)
		logger.Info("photo storage configured", "cloud", c.CloudName)
	}

	h := api.New(api.Deps{
		Store:        ledgerStore,
		Approvals:    approval.NewService(ledgerStore, time.Now, logger),
		Attendance:   recorder,
		Academics:    academics.NewService(ledgerStore, time.Now, logger),
		Entitlements: entitlement.NewService(ledgerStore, time.Now, logger),
		Submitter:    capture.NewSubmitter(recorder, captures, time.Now, logger),
		Photos:       photos,
		Metrics:      m,
		Gatherer:     reg,
		Logger:       logger,
		Auth: api.Auth{
			SigningKey: cfg.JWTSigningKey,
			Issuer:     cfg.JWTIssuer,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		RateLimit: cfg.RateLimitPerMin,
		Health:    health,
	})

	workCtx, cancelWork := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workCtx)
		}()
	}

	// With a shared queue the scoring runs in cmd/worker; the ledger has a
	// single writer, so recording always happens here.
	if cfg.QueueBackend != "redis" {
		sw := capture.NewScoreWorker(captures, scored, face, logger)
		spawn(func(ctx context.Context) { _ = sw.Run(ctx) })
	} else {
		depth := captures.(*queue.RedisQueue)
		spawn(func(ctx context.Context) { watchDepth(ctx, depth, m) })
	}
	rw := capture.NewRecordWorker(scored, recorder, m, logger)
	spawn(func(ctx context.Context) { _ = rw.Run(ctx) })

	saver := store.NewSaver(ledgerStore, persistence, cfg.SnapshotInterval, m, logger)
	spawn(saver.Run)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("server forced shutdown", "error", serr)
	}

	// workers stop after the last request; the saver writes a final snapshot
	cancelWork()
	wg.Wait()
	logger.Info("server exited")
	return err
}

func watchDepth(ctx context.Context, q *queue.RedisQueue, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.Len(ctx); err == nil {
				m.SetQueueDepth(n)
			}
		}
	}
}
