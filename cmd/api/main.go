package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esign-platform/internal/auth"
	"esign-platform/internal/config"
	"esign-platform/internal/httpapi"
	"esign-platform/internal/lifecycle"
	"esign-platform/internal/metrics"
	"esign-platform/internal/notify"
	"esign-platform/internal/ratelimit"
	"esign-platform/internal/reporting"
	"esign-platform/internal/signing"
	"esign-platform/internal/storage"
	"esign-platform/internal/store"
	"esign-platform/pkg/logger"
	"esign-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := storage.NewFS(cfg.Signing.StoragePath)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	var dispatcher notify.Dispatcher
	if cfg.SMTP.Enabled() {
		dispatcher = notify.NewSMTPDispatcher(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		log.Warn("smtp not configured, mail goes to the log")
		dispatcher = notify.NewLogDispatcher(log)
	}

	// Rate limiting is optional; without Redis the public signing routes
	// run unthrottled.
	var limiter ratelimit.Allower
	h := httpapi.Handlers{
		Auth:        authManager,
		DB:          db,
		Storage:     blobs,
		MaxFileSize: cfg.Signing.MaxFileSizeBytes(),
	}
	if cfg.Redis.Enabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		h.Redis = rdb

		l, err := ratelimit.New(rdb, cfg.Signing.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.Error("rate limiter init failed", "err", err)
			os.Exit(1)
		}
		limiter = l
	} else {
		log.Warn("redis not configured, signing routes are unthrottled")
	}

	metrics.Register()

	st := store.NewPostgres(db)
	docs := lifecycle.NewService(st, blobs, dispatcher, log, cfg.Signing.PublicURL)
	h.Lifecycle = docs
	h.Signing = signing.NewService(st, blobs, dispatcher, log)
	h.Reports = reporting.NewService(reporting.NewStoreRepo(st))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), ratelimit.Middleware(limiter, log, ratelimit.ByTokenParam("token")))

	// Overdue pending documents are expired lazily on signing access and
	// eagerly by this sweeper.
	go runExpirySweeper(rootCtx, docs, cfg.Signing.ExpirySweepEvery, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func runExpirySweeper(ctx context.Context, docs *lifecycle.Service, every time.Duration, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := docs.ExpireOverdue(ctx); err != nil {
				log.Error("expiry sweep failed", "err", err)
			}
		}
	}
}
