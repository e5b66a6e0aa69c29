package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"gigfin/internal/amqp"
	"gigfin/internal/auth"
	"gigfin/internal/cache"
	"gigfin/internal/cli"
	apphttp "gigfin/internal/http"
	"gigfin/internal/log"
	"gigfin/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Entry lists are cached per user and dropped on every mutation.
	store := cache.NewStore(cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(store.Cleaner())
	cacheManager.StartCleanup(cfg.CacheTTL)
	defer cacheManager.Stop()

	// Events are optional; without a broker the API runs SQLite-only and the
	// activity log stays empty.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - entry changes will not be published")
	}

	entries := services.NewEntryService(repo, store, publisher)
	authSvc := auth.NewService(repo, auth.Config{
		SessionTTL: cfg.SessionTTL,
		BcryptCost: cfg.BcryptCost,
		Issuer:     cfg.TOTPIssuer,
	})

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	janitor := services.NewJanitor(authSvc, services.DefaultJanitorConfig())
	if err := janitor.Start(ctx); err != nil {
		logger.ErrorOp(ctx, "Failed to start session janitor", log.OpStartup, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		CookieSecure:       cfg.SessionCookieSecure,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		DefaultPageSize:    cfg.DefaultPageSize,
		TrustedProxies:     cfg.TrustedProxies,
		Location:           time.Local,
	}, entries, authSvc, repo)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting gigfin server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.ErrorOp(ctx, "Server error", log.OpStartup, err, "port", cfg.Port)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorOp(shutdownCtx, "Server shutdown error", log.OpShutdown, err)
	}
	if err := janitor.Stop(shutdownCtx); err != nil {
		logger.ErrorOp(shutdownCtx, "Janitor shutdown error", log.OpShutdown, err)
	}

	m := srv.Metrics()
	cs := store.Stats()
	logger.Info("Server stopped gracefully",
		"requests", m.Trace.TotalRequests,
		"rate_limited", m.RateLimit.Rejected,
		"suspicious", m.Security.SuspiciousRequests,
		"cache_hits", cs.Hits,
		"cache_misses", cs.Misses)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
