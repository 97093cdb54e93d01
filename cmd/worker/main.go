package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/orchestrator"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("Starting worker...")

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
	defer publisher.Close()

	handlers := map[task.Kind]worker.Handler{
		task.KindSearch: searchHandler,
		task.KindRead:   readHandler,
		task.KindWrite:  writeHandler,
		task.KindUpdate: updateHandler,
		task.KindDelete: deleteHandler,
	}

	orch := orchestrator.New(cfg, store, publisher, handlers)

	if err := orch.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start orchestrator")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := orch.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Orchestrator shutdown error")
	}

	log.Info().Msg("Worker stopped")
}

// Example task handlers; a real deployment registers its own per Kind.

func searchHandler(ctx context.Context, t *task.Task) ([]byte, error) {
	logger.Info().Str("task_id", t.ID).Msg("search handler processing task")
	return json.Marshal(map[string]interface{}{"matched": 0})
}

func readHandler(ctx context.Context, t *task.Task) ([]byte, error) {
	logger.Info().Str("task_id", t.ID).Msg("read handler processing task")
	return t.Payload, nil
}

func writeHandler(ctx context.Context, t *task.Task) ([]byte, error) {
	logger.Info().Str("task_id", t.ID).Msg("write handler processing task")

	select {
	case <-time.After(time.Duration(50+rand.Intn(200)) * time.Millisecond):
		return json.Marshal(map[string]interface{}{"written": true})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func updateHandler(ctx context.Context, t *task.Task) ([]byte, error) {
	logger.Info().Str("task_id", t.ID).Msg("update handler processing task")
	return json.Marshal(map[string]interface{}{"updated": true})
}

func deleteHandler(ctx context.Context, t *task.Task) ([]byte, error) {
	logger.Info().Str("task_id", t.ID).Msg("delete handler processing task")
	return json.Marshal(map[string]interface{}{"deleted": true})
}
