package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartsavvy/internal/backup"
	"github.com/dukerupert/smartsavvy/internal/config"
	"github.com/dukerupert/smartsavvy/internal/database"
	"github.com/dukerupert/smartsavvy/internal/email"
	"github.com/dukerupert/smartsavvy/internal/handler"
	"github.com/dukerupert/smartsavvy/internal/logging"
	"github.com/dukerupert/smartsavvy/internal/server"
	"github.com/dukerupert/smartsavvy/internal/subscription"
	"github.com/dukerupert/smartsavvy/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("error", "text").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	catalog, err := subscription.NewCatalog(cfg.Products)
	if err != nil {
		slog.Error("invalid product map", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, stats will be degraded", "addr", cfg.RedisAddr, "error", err)
	}
	pingCancel()

	var backupMgr *backup.Manager
	if cfg.Backup.Enabled() {
		backupMgr = backup.NewManager(cfg.Backup, db, logger.With("component", "backup"))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(db, rdb, server.Config{
		Webhook: handler.WebhookConfig{
			CopeCartSecret: cfg.CopeCartSecret,
			Digistore: webhook.DigistoreConfig{
				UserAgent:  cfg.DigistoreUserAgent,
				Passphrase: cfg.DigistoreIPNPassphrase,
			},
		},
		Catalog:        catalog,
		Clock:          cfg.Clock,
		EmailClient:    email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL),
		AdminTokenHash: cfg.AdminTokenHash,
		Backup:         backupMgr,
		OriginPatterns: cfg.OriginPatterns,
	}, reg, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go srv.RateLimiter().RunCleanup(cleanupCtx, 5*time.Minute)
	if backupMgr != nil {
		go backupMgr.Run(cleanupCtx)
	}

	go func() {
		slog.Info("smartsavvy starting", "addr", ":"+cfg.Port, "stats_timezone", cfg.Clock.Loc.String())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
