package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mikkicon/bellflow/api"
	"github.com/Mikkicon/bellflow/config"
	"github.com/Mikkicon/bellflow/engine"
	"github.com/Mikkicon/bellflow/jobs"
	"github.com/Mikkicon/bellflow/kafka"
	"github.com/Mikkicon/bellflow/platform"
	"github.com/Mikkicon/bellflow/scraper"
	"github.com/Mikkicon/bellflow/session"
	"github.com/Mikkicon/bellflow/store"
	"github.com/Mikkicon/bellflow/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("bellflow starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxWorkers", cfg.Browser.MaxWorkers,
		"profilesDir", cfg.Browser.ProfilesDir,
	)

	// ── 3. Platform tables ──────────────────────────────────────────
	platforms := platform.Default()
	if cfg.PlatformsFile != "" {
		var err error
		if platforms, err = platform.Load(cfg.PlatformsFile); err != nil {
			slog.Error("failed to load platform definitions", "file", cfg.PlatformsFile, "error", err)
			os.Exit(1)
		}
	}

	// ── 4. Sessions + engines ───────────────────────────────────────
	launcher := session.RodLauncher{
		Bin:       cfg.Browser.BrowserBin,
		NoSandbox: cfg.Browser.NoSandbox,
		Proxy:     cfg.Browser.Proxy,
		Block: scraper.BlockOptions{
			ResourceTypes: cfg.Browser.BlockedResourceTypes,
			Trackers:      cfg.Browser.BlockTrackers,
		},
	}
	sessions := session.NewManager(cfg.Browser.ProfilesDir, launcher.Launch)

	pool := engine.NewWorkerPool(cfg.Browser.MaxWorkers)
	collector := scraper.NewCollector(scraper.Options{
		SettleDelay: cfg.Scraper.SettleDelay,
		NudgeOffset: cfg.Scraper.NudgeOffset,
		NudgeDelay:  cfg.Scraper.NudgeDelay,
		ScrollDelay: cfg.Scraper.ScrollDelay,
		MaxScrolls:  cfg.Scraper.MaxScrolls,
	})
	engines := engine.NewRegistry(platforms, engine.BrowserEngineName,
		engine.NewBrowserEngine(sessions, platforms, collector, pool, engine.WithHeadless(cfg.Browser.Headless)),
	)

	remote, err := engine.NewBrightDataEngine(engine.BrightDataConfig{
		APIKey:            cfg.BrightData.APIKey,
		BaseURL:           cfg.BrightData.BaseURL,
		Timeout:           cfg.BrightData.Timeout,
		RequestsPerSecond: cfg.BrightData.RequestsPerSecond,
	}, platforms)
	if err != nil {
		slog.Warn("brightdata engine disabled", "error", err)
	} else {
		engines.Register(remote)
	}

	// ── 5. Job archive + notifiers ──────────────────────────────────
	archive, err := store.New(store.Config{
		Backend:    cfg.Store.Backend,
		RedisAddr:  cfg.Store.RedisAddr,
		Prefix:     cfg.Store.Prefix,
		TTL:        cfg.Store.TTL,
		MaxEntries: cfg.Store.MaxEntries,
	})
	if err != nil {
		slog.Error("failed to initialise job store", "error", err)
		os.Exit(1)
	}

	opts := []jobs.Option{jobs.WithArchive(archive)}
	if cfg.Webhook.URL != "" {
		opts = append(opts, jobs.WithNotifiers(webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)))
		slog.Info("webhook notifications enabled", "url", cfg.Webhook.URL)
	}
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts = append(opts, jobs.WithNotifiers(producer))
		slog.Info("kafka job events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	jm := jobs.NewManager(opts...)

	bg, stopBackground := context.WithCancel(context.Background())
	go jm.RunJanitor(bg, cfg.Jobs.JanitorInterval, cfg.Jobs.MaxAgeHours)

	// ── 6. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(bg, cfg, api.Deps{
		Jobs:     jm,
		Engines:  engines,
		Sessions: sessions,
		Pool:     pool,
	}, time.Now())

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr, "engines", engines.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Flush browser profiles before draining the server.
	sessions.CleanupAllSessions()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	stopBackground()
	if producer != nil {
		if err := producer.Close(); err != nil {
			slog.Warn("closing kafka producer failed", "error", err)
		}
	}
	if err := archive.Close(); err != nil {
		slog.Warn("closing job store failed", "error", err)
	}
	slog.Info("bellflow stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
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

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
