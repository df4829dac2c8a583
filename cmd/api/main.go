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

	"rtc-platform/internal/config"
	"rtc-platform/internal/docstore"
	"rtc-platform/internal/httpapi"
	"rtc-platform/internal/media"
	"rtc-platform/internal/signaling"
	"rtc-platform/pkg/logger"
	"rtc-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local env file, if present; real deployments set env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Document store: Postgres when configured, in-memory otherwise.
	var store docstore.Store
	if cfg.UsePostgres() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		store = docstore.NewPostgres(db)
	} else {
		log.Warn("DB_HOST not set; using in-memory document store")
		store = docstore.NewMemory()
	}

	handlers := httpapi.Handlers{}

	// Redis fanout relays invite changes across API instances.
	if cfg.UseRedis() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		fanout := docstore.NewFanout(store, rdb, log)
		go fanout.Run(rootCtx)
		store = fanout
		handlers.Redis = rdb
	}

	if cfg.Media.APIKey != "" && cfg.Media.APISecret != "" {
		tokens, err := media.NewTokenProvider(cfg.Media)
		if err != nil {
			log.Error("media token provider init failed", "err", err)
			os.Exit(1)
		}
		handlers.Tokens = tokens
	} else {
		log.Warn("media credentials not set; token endpoint disabled")
	}

	handlers.Signals = signaling.NewService(store, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers)

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
}
