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
	"syscall"
	"time"

	"github.com/qrshield/qrshield-go/internal/cache"
	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/config"
	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/handlers"
	"github.com/qrshield/qrshield-go/internal/metrics"
	"github.com/qrshield/qrshield-go/internal/model"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
	"github.com/qrshield/qrshield-go/internal/server"
	"github.com/qrshield/qrshield-go/internal/sse"
	qrtls "github.com/qrshield/qrshield-go/internal/tls"
	"github.com/qrshield/qrshield-go/internal/ws"
)

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml")
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*configDir, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := server.SetupLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	background := server.NewGroup(ctx, logger)

	// Classifier model (optional: whitelist-only mode without it)
	predictor := loadPredictor(cfg, logger)

	m := metrics.New()
	m.SetModelLoaded(predictor != nil)

	gwOpts := []classify.Option{classify.WithLogger(logger)}
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		mem := cache.NewMemory(cfg.Cache.TTL)
		background.Go("cache-janitor", func(ctx context.Context) { mem.CleanupLoop(ctx, time.Minute) })
		gwOpts = append(gwOpts, classify.WithCache(mem))
	case config.CacheRedis:
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Cache.TTL)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
		defer rc.Close()
		gwOpts = append(gwOpts, classify.WithCache(rc))
	}

	whitelist := classify.NewWhitelist(cfg.Whitelist.Domains, cfg.Whitelist.Schemes)
	gateway := classify.NewGateway(whitelist, predictor, gwOpts...)

	// Live feeds
	sseHub := sse.NewHub(logger)
	limiter := ratelimit.New()
	background.Go("ratelimit-janitor", func(ctx context.Context) { limiter.CleanupLoop(ctx, time.Minute) })

	deps := handlers.Deps{
		Gateway:        gateway,
		Hub:            sseHub,
		Limiter:        limiter,
		Metrics:        m,
		Explainer:      classify.NewExplainer(cfg.Explain.APIKey, cfg.Explain.Model),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	}

	// Scan history (optional)
	if cfg.Database.URL != "" {
		database, err := db.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer database.Close()

		wsManager := ws.NewManager(database, logger)
		pgListener := sse.NewPGListener(database.Pool, database, sse.Fanout{sseHub, wsManager}, logger)
		background.Go("pg-listener", pgListener.Listen)
		background.Go("partition-maintenance", database.PartitionLoop)

		deps.Recorder = database
		deps.History = database
		deps.WS = wsManager
	} else {
		logger.Warn("database.url not set, scan history disabled")
		wsManager := ws.NewManager(nil, logger)
		deps.Recorder = handlers.NewLocalRecorder(sse.Fanout{sseHub, wsManager})
		deps.WS = wsManager
	}

	if deps.Explainer == nil {
		logger.Info("explain.api_key not set, /v1/explain disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handlers.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel() // stop background goroutines

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
		if err := background.Wait(shutdownCtx); err != nil {
			logger.Warn("background goroutines did not stop in time", "err", err)
		}
	}()

	logger.Info("server starting",
		"addr", srv.Addr,
		"env", cfg.Server.Env,
		"model", gateway.ModelName(),
		"cache", cfg.Cache.Backend,
		"whitelist_domains", len(whitelist.Domains()),
	)
	if err := serve(ctx, cfg, srv, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	<-stopped
	logger.Info("server stopped")
}

// loadPredictor returns the configured predictor, or nil when the model file
// is missing or cannot be loaded.
func loadPredictor(cfg *config.Config, logger *slog.Logger) classify.Predictor {
	if cfg.Model.RemoteURL != "" {
		logger.Info("using remote model", "url", cfg.Model.RemoteURL, "timeout", cfg.Model.Timeout)
		return model.NewRemote(cfg.Model.RemoteURL, cfg.Model.Timeout)
	}

	p, err := model.Load(cfg.Model.Path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("model file not found, running in whitelist-only mode", "path", cfg.Model.Path)
		return nil
	}
	if err != nil {
		logger.Error("failed to load model, running in whitelist-only mode", "path", cfg.Model.Path, "err", err)
		return nil
	}
	logger.Info("model loaded", "path", cfg.Model.Path, "model", p.Name())
	return p
}

func serve(ctx context.Context, cfg *config.Config, srv *http.Server, logger *slog.Logger) error {
	if len(cfg.TLS.Domains) == 0 {
		return srv.ListenAndServe()
	}
	cm, err := qrtls.NewCertManager(qrtls.Options{
		Domains:    cfg.TLS.Domains,
		Email:      cfg.TLS.Email,
		Production: cfg.Production(),
	}, logger)
	if err != nil {
		return err
	}
	return cm.ListenAndServe(ctx, srv)
}
