package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/iconidentify/streamfetch/internal/api"
	"github.com/iconidentify/streamfetch/internal/api/handler"
	"github.com/iconidentify/streamfetch/internal/auth"
	"github.com/iconidentify/streamfetch/internal/config"
	"github.com/iconidentify/streamfetch/internal/credstore"
	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/events"
	"github.com/iconidentify/streamfetch/internal/expander"
	"github.com/iconidentify/streamfetch/internal/progress"
	"github.com/iconidentify/streamfetch/internal/repository"
	"github.com/iconidentify/streamfetch/internal/scheduler"
	"github.com/iconidentify/streamfetch/internal/service"
	"github.com/iconidentify/streamfetch/pkg/crypto"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	askPassphrase := flag.Bool("passphrase", false, "Prompt for the session encryption passphrase")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("streamfetch %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamfetch",
		"version", Version,
		"build_time", BuildTime,
		"output_dir", cfg.Storage.OutputDir,
		"concurrency", cfg.Scheduler.Concurrency,
	)

	if *askPassphrase && cfg.Auth.Passphrase == "" {
		cfg.Auth.Passphrase, err = readPassphrase()
		if err != nil {
			logger.Error("failed to read passphrase", "error", err)
			os.Exit(1)
		}
	}

	// Ensure storage directories exist
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	// Event bus
	bus, err := events.New(events.Config{
		RingBufferSize:   cfg.Events.RingBufferSize,
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
		SQLitePath:       cfg.Events.SQLitePath,
		RetentionDays:    cfg.Events.RetentionDays,
	}, logger)
	if err != nil {
		logger.Error("failed to create event bus", "error", err)
		os.Exit(1)
	}

	// Credential store
	var storeOpts []credstore.FileStoreOption
	if cfg.Auth.Passphrase != "" {
		sealer, err := crypto.NewSealer(cfg.Auth.Passphrase)
		if err != nil {
			logger.Error("failed to derive session key", "error", err)
			os.Exit(1)
		}
		storeOpts = append(storeOpts, credstore.WithSealer(sealer))
	}
	store := credstore.NewFileStore(cfg.Storage.SessionDir, logger, storeOpts...)

	// Extraction engine
	ytdlp := engine.NewYTDLP(engine.YTDLPConfig{
		Binary:          cfg.Engine.Binary,
		UserAgent:       cfg.Engine.UserAgent,
		SocketTimeout:   cfg.Engine.SocketTimeout,
		MergeFormat:     cfg.Engine.MergeFormat,
		OutputTemplate:  cfg.Engine.OutputTemplate,
		FragmentRetries: cfg.Engine.FragmentRetries,
	}, logger)
	if !ytdlp.Available() {
		logger.Warn("yt-dlp not found on PATH; downloads will fail", "binary", cfg.Engine.Binary)
	}
	var lister engine.Lister = ytdlp
	if cfg.Engine.Lister == "native" {
		lister = engine.NewNativeLister(cfg.Engine.ListTimeout, ytdlp, logger)
	}

	// Session
	session := auth.NewSessionManager(auth.Config{
		CookieDomains: cfg.Auth.CookieDomains,
		LoginTimeout:  cfg.Auth.LoginTimeout,
	}, store, bus, logger,
		auth.WithCapturer(engine.NewBrowserCapture(ytdlp, cfg.Auth.Browser, cfg.Auth.CookieDomains)),
		auth.WithProber(engine.NewProber(ytdlp, cfg.Auth.ProbeURL)),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	if err := session.Restore(startCtx); err != nil {
		logger.Warn("failed to restore session", "error", err)
	}
	if cfg.Auth.ValidateOnStart && session.State() == domain.AuthStateAuthenticated {
		if err := session.Validate(startCtx); err != nil {
			logger.Warn("restored session failed validation", "error", err)
		}
	}
	cancelStart()

	// Repositories
	jobRepo := repository.NewInMemoryJobRepository()
	groupRepo := repository.NewInMemoryGroupRepository()

	aggregator := progress.NewAggregator(progress.Config{
		MaxUpdatesPerSecond: cfg.Progress.MaxUpdatesPerSecond,
		LogSamples:          cfg.Progress.LogSamples,
	}, bus)
	schedOpts := []scheduler.Option{
		scheduler.WithCredentials(session),
		scheduler.WithProgress(aggregator),
		scheduler.WithPreflight(service.DiskPreflight(cfg.Storage.MinFreeBytes, logger)),
	}
	svcOpts := []service.Option{
		service.WithEngine(ytdlp),
		service.WithProgressLog(aggregator),
	}

	var history *repository.SQLiteHistoryRepository
	if cfg.Expander.HistoryPath != "" {
		history, err = repository.NewSQLiteHistoryRepository(cfg.Expander.HistoryPath)
		if err != nil {
			logger.Error("failed to open download history", "error", err)
			os.Exit(1)
		}
		schedOpts = append(schedOpts, scheduler.WithHistory(history))
		svcOpts = append(svcOpts, service.WithHistory(history))
	}

	// Scheduler
	sched := scheduler.New(
		scheduler.Config{
			Concurrency: cfg.Scheduler.Concurrency,
			Retry: scheduler.RetryConfig{
				MaxAttempts:   cfg.Scheduler.MaxAttempts,
				InitialDelay:  cfg.Scheduler.RetryDelay,
				MaxDelay:      cfg.Scheduler.MaxRetryDelay,
				BackoffFactor: cfg.Scheduler.BackoffFactor,
			},
		},
		jobRepo,
		groupRepo,
		ytdlp,
		bus,
		logger,
		schedOpts...,
	)

	// Expander
	scope, err := expander.ParseScope(cfg.Expander.DedupeScope)
	if err != nil {
		logger.Error("invalid dedupe scope", "error", err)
		os.Exit(1)
	}
	var registryHistory expander.History
	if history != nil {
		registryHistory = history
	}
	exp := expander.New(lister, expander.NewRegistry(scope, sched, registryHistory), session, bus, logger)

	// Service
	svc := service.NewDownloadService(exp, sched, session, service.Config{
		OutputDir:      cfg.Storage.OutputDir,
		DefaultQuality: cfg.Engine.DefaultQuality,
		Container:      cfg.Engine.MergeFormat,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
	}, logger, svcOpts...)

	// Initialize handlers
	downloadHandler := handler.NewDownloadHandler(svc, logger)
	authHandler := handler.NewAuthHandler(svc, logger)
	eventHandler := handler.NewEventHandler(bus, logger)
	healthHandler := handler.NewHealthHandler(svc, bus, cfg.Storage.OutputDir)

	// Setup router
	router := api.NewRouter(downloadHandler, authHandler, eventHandler, healthHandler, cfg.Server.APIKey, logger)
	if cfg.Server.APIKey == "" && !isLoopback(cfg.Server.Host) {
		logger.Warn("API key not set on a non-loopback address; the API is unauthenticated", "host", cfg.Server.Host)
	}

	// Background tasks
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	go bus.RunRetention(bgCtx, time.Hour)
	if keep := cfg.Scheduler.Retention; keep > 0 {
		every := time.Hour
		if keep < every {
			every = keep
		}
		go sched.RunRetention(bgCtx, every, keep)
	}
	if cfg.Auth.WatchFile != "" {
		if err := session.WatchCookieFile(bgCtx, cfg.Auth.WatchFile); err != nil {
			logger.Warn("failed to watch cookie file", "path", cfg.Auth.WatchFile, "error", err)
		}
	}

	// Start scheduler
	sched.Start()

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Cancel background tasks and any login capture
	cancelBackground()
	svc.Close()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop the scheduler (running jobs are cancelled, partial files kept)
	if err := sched.Stop(cfg.Scheduler.ShutdownGrace); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}

	if history != nil {
		if err := history.Close(); err != nil {
			logger.Error("failed to close download history", "error", err)
		}
	}
	if err := bus.Close(); err != nil {
		logger.Error("failed to close event bus", "error", err)
	}

	logger.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isLoopback(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// readPassphrase prompts on the controlling terminal without echo.
func readPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set SESSION_PASSPHRASE instead")
	}
	fmt.Fprint(os.Stderr, "Session passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("empty passphrase")
	}
	return string(b), nil
}
