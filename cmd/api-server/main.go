package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexusflow/taskqueue/internal/api"
	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/dlq"
	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Msg("Starting API server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Connect(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to storage")
	}
	defer store.Close()

	redisClient, err := events.NewClient(cfg.EventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to event bus")
	}
	publisher := events.NewRedisPubSub(redisClient)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	// The API server only reads/retries/clears the dead-letter partition
	// through this handle; the cleanup sweep (dlq.Start) runs once, in
	// the worker process's orchestrator, to avoid two processes racing
	// the same age-based purge.
	dlqQueue := dlq.New(store, publisher, cfg.DLQ)

	server := api.NewServer(cfg, store, dlqQueue, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.Start(ctx)

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
