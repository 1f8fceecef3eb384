// livefeed holds the dashboard's live data session: one websocket stream per
// bearer token, a last-known data cache with REST fallback, and an optional
// recorder that copies events into PostgreSQL.
//
// Usage: go run ./cmd/livefeed --config configs/livefeed.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/rickgao/tradedash/internal/api"
	"github.com/rickgao/tradedash/internal/auth"
	"github.com/rickgao/tradedash/internal/config"
	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/database"
	"github.com/rickgao/tradedash/internal/event"
	"github.com/rickgao/tradedash/internal/poller"
	"github.com/rickgao/tradedash/internal/router"
	"github.com/rickgao/tradedash/internal/snapshot"
	"github.com/rickgao/tradedash/internal/version"
	"github.com/rickgao/tradedash/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/livefeed.local.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// Missing .env is fine; the variables may come from the environment
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting livefeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("livefeed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("livefeed stopped")
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tokens, err := auth.NewTokenSource(cfg.Auth)
	if err != nil {
		return fmt.Errorf("token source: %w", err)
	}

	// Connection Manager
	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = cfg.Stream.URL
	mgrCfg.UserAgent = version.UserAgent()
	mgrCfg.ReconnectAttempts = cfg.Stream.ReconnectAttempts
	mgrCfg.ReconnectDelay = cfg.Stream.ReconnectDelay
	mgrCfg.HandshakeTimeout = cfg.Stream.HandshakeTimeout
	mgrCfg.PingInterval = cfg.Stream.PingInterval
	mgrCfg.PingTimeout = cfg.Stream.PingTimeout
	mgrCfg.WriteTimeout = cfg.Stream.WriteTimeout
	mgrCfg.BufferSize = cfg.Stream.BufferSize

	mgr := connection.NewManager(mgrCfg, nil, logger)
	defer mgr.Disconnect()

	errLog := &errorLogger{mgr: mgr, logger: logger}
	errLog.Attach()

	// Last-known data
	cache := snapshot.New(mgr, cfg.Stream.Channels, logger)
	defer cache.Close()

	var poll *poller.Poller
	if cfg.Poller.Enabled {
		apiClient := api.NewClient(
			cfg.API.BaseURL,
			tokens,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, time.Second),
			api.WithUserAgent(version.UserAgent()),
		)

		pollCfg := poller.DefaultConfig()
		pollCfg.Interval = cfg.Poller.Interval
		pollCfg.Timeout = cfg.Poller.Timeout

		seed := poller.SnapshotHandlerFunc(func(channel string, events []event.Event) error {
			cache.Seed(events)
			return nil
		})
		poll = poller.New(pollCfg, apiClient, mgr, cache, seed, logger)
		if err := poll.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	// Optional recorder
	var rec *recorder
	if cfg.Recorder.Enabled {
		rec, err = startRecorder(ctx, cfg, mgr, logger)
		if err != nil {
			return err
		}
	}

	feed := &feed{
		mgr:      mgr,
		tokens:   tokens,
		interval: cfg.Auth.RefreshInterval,
		logger:   logger,
		attach:   []attacher{errLog, cache},
	}
	if rec != nil {
		feed.attach = append(feed.attach, rec.router)
	}
	feed.connect(ctx)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHealthHandler(cfg.Health.Path, mgr, cache, rec, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("livefeed running",
		"stream_url", cfg.Stream.URL,
		"channels", cfg.Stream.Channels,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	feed.run(ctx)

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	if poll != nil {
		poll.Stop(shutdownCtx)
	}
	if rec != nil {
		rec.stop(shutdownCtx, logger)
	}
	return nil
}

// recorder bundles the event router, writer and their pool.
type recorder struct {
	pool   *pgxpool.Pool
	router router.Router
	writer *writer.EventWriter
}

func startRecorder(ctx context.Context, cfg *config.Config, mgr *connection.Manager, logger *slog.Logger) (*recorder, error) {
	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool, writer.Schema); err != nil {
		pool.Close()
		return nil, err
	}

	rtrCfg := router.DefaultRouterConfig()
	rtrCfg.Channels = cfg.Recorder.Channels
	rtrCfg.BufferSize = cfg.Recorder.BufferSize
	rtrCfg.MaxBufferSize = cfg.Recorder.MaxBufferSize
	rtr := router.NewRouter(rtrCfg, mgr, logger)

	w := writer.NewEventWriter(writer.WriterConfig{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
	}, rtr.Buffer(), pool, logger)

	if err := rtr.Start(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("start router: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		rtr.Stop(ctx)
		pool.Close()
		return nil, fmt.Errorf("start writer: %w", err)
	}

	return &recorder{pool: pool, router: rtr, writer: w}, nil
}

// stop shuts the recorder down in pipeline order so buffered events are
// flushed before the pool closes.
func (r *recorder) stop(ctx context.Context, logger *slog.Logger) {
	r.router.Stop(ctx)
	if err := r.writer.Stop(ctx); err != nil {
		logger.Error("event writer stop failed", "error", err)
	}
	r.pool.Close()
}
