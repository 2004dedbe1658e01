package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"reconsage/internal/config"
	"reconsage/internal/control"
	"reconsage/internal/dashboard"
	"reconsage/internal/progress"
	"reconsage/internal/runs"
	"reconsage/internal/scan"
	"reconsage/internal/sink"
	"reconsage/internal/storage"
	"reconsage/internal/telemetry"

	"log/slog"
)

func main() {
	configPath := flag.String("config", "configs/reconsage.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting reconsage",
		"version", "0.1.0",
		"control_listen", cfg.Control.Listen,
		"run_store", cfg.Run.Store,
	)

	var runStore runs.Store
	var redisStore *runs.RedisStore
	switch cfg.Run.Store {
	case "redis":
		redisStore, err = runs.NewRedisStore(runs.RedisConfig{
			Addr:      cfg.Run.Redis.Addr,
			Password:  cfg.Run.Redis.Password,
			DB:        cfg.Run.Redis.DB,
			KeyPrefix: cfg.Run.Redis.KeyPrefix,
		}, cfg.Run.RetentionTime)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		runStore = redisStore
		slog.Info("using Redis run store", "addr", cfg.Run.Redis.Addr)
	default:
		runStore = runs.NewMemoryStore()
		slog.Info("using in-memory run store")
	}

	var sqliteStore *storage.SQLiteStore
	if cfg.Storage.Enabled {
		dataDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			slog.Error("failed to create data directory", "error", err, "path", dataDir)
			os.Exit(1)
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			slog.Error("failed to initialize SQLite storage", "error", err)
			os.Exit(1)
		}
		slog.Info("SQLite run history enabled", "path", cfg.Storage.Path, "retention_days", cfg.Storage.RetentionDays)
	}

	var telemetryProvider *telemetry.Provider
	if cfg.Telemetry.Enabled {
		telemetryProvider, err = telemetry.NewProvider(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			telemetryProvider = telemetry.NoopProvider()
		} else {
			slog.Info("telemetry enabled", "exporter", cfg.Telemetry.Exporter, "endpoint", cfg.Telemetry.Endpoint)
		}
	} else {
		telemetryProvider = telemetry.NoopProvider()
	}

	broadcaster := progress.NewBroadcaster()
	reportSink := sink.New()
	if sqliteStore != nil {
		reportSink.SetHistory(sqliteStore)
	}
	orchestrators := scan.New(cfg, reportSink, telemetryProvider)

	controlHandler := control.NewWithAuth(runStore, broadcaster, control.Operations{
		Directory:     orchestrators.Directory,
		WAF:           orchestrators.WAF,
		RateLimit:     orchestrators.RateLimit,
		FalsePositive: orchestrators.FalsePositive,
	}, cfg.Control.Auth.Enabled, cfg.Control.Auth.APIKey)

	dashboardHandler := dashboard.New(runStore, sqliteStore)

	// controlHandler does its own internal routing (/scan, /waf/scan,
	// /rate/limit, /false/positive, /control/*); anything else falls
	// through to the dashboard.
	mux := http.NewServeMux()
	mux.Handle("/scan", controlHandler)
	mux.Handle("/waf/scan", controlHandler)
	mux.Handle("/rate/limit", controlHandler)
	mux.Handle("/false/positive", controlHandler)
	mux.Handle("/control/", controlHandler)
	mux.Handle("/", dashboardHandler)

	var controlServer *http.Server
	if cfg.Control.Enabled {
		controlServer = &http.Server{
			Addr:         cfg.Control.Listen,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // the control WebSocket route streams indefinitely
			IdleTimeout:  60 * time.Second,
		}
	}

	errChan := make(chan error, 1)
	if controlServer != nil {
		go func() {
			slog.Info("control server starting", "addr", cfg.Control.Listen)
			if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("control server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server error", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if controlServer != nil {
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("control server shutdown error", "error", err)
		}
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			slog.Error("sqlite close error", "error", err)
		}
	}
	if telemetryProvider != nil {
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}

	slog.Info("reconsage stopped")
}
