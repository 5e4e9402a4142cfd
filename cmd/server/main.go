package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/huddleworks/huddle/internal/api"
	"github.com/huddleworks/huddle/internal/config"
	"github.com/huddleworks/huddle/internal/directory"
	"github.com/huddleworks/huddle/internal/handlers"
	"github.com/huddleworks/huddle/internal/notify"
	"github.com/huddleworks/huddle/internal/presence"
	"github.com/huddleworks/huddle/internal/store"
	"github.com/huddleworks/huddle/internal/uploads"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Authoritative store: PostgreSQL when DATABASE_URL is set, SQLite
	// otherwise.
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer dataStore.Close()

	// Redis carries typing presence, the search index, rate limit counters
	// and notification cursors. Everything degrades to in-process state
	// without it.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	var typing presence.Registry
	var cursor notify.Cursor
	if redisStore != nil {
		typing = presence.NewRedis(redisStore, cfg.TypingTTL)
		cursor = notify.NewRedisCursor(redisStore)
	} else {
		mem := presence.NewMemory(cfg.TypingTTL)
		go mem.RunSweeper(ctx, time.Minute)
		typing = mem
		cursor = notify.NewMemoryCursor()
	}
	dispatcher := notify.NewDispatcher(cursor, notify.LogSink{Logger: logger})

	var resolver directory.Resolver = directory.Permissive{}
	if cfg.DirectoryURL != "" {
		resolver = directory.NewHTTPResolver(cfg.DirectoryURL)
	}

	uploader, err := uploads.NewDisk(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("upload dir unavailable")
	}

	h := handlers.NewHandler(handlers.Deps{
		Store:      dataStore,
		Redis:      redisStore,
		Typing:     typing,
		Directory:  resolver,
		Dispatcher: dispatcher,
		Uploader:   uploader,
		Policy:     uploads.Policy{MaxSize: cfg.MaxUploadBytes},
		Logger:     logger,
	})

	opts := api.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		UploadDir:          cfg.UploadDir,
	}
	if redisStore != nil {
		opts.RedisClient = redisStore.Client()
	}
	router := api.NewRouter(logger, h, opts)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting huddle server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
