package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/database"
	"github.com/patchvec/patchvec/internal/document"
	"github.com/patchvec/patchvec/internal/embedding"
	"github.com/patchvec/patchvec/internal/ingest"
	"github.com/patchvec/patchvec/internal/queue"
	"github.com/patchvec/patchvec/internal/queue/workers"
	"github.com/patchvec/patchvec/internal/rasterize"
	"github.com/patchvec/patchvec/internal/storage"
	"github.com/patchvec/patchvec/internal/vectorstore"
	"github.com/patchvec/patchvec/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var store *storage.MinioStore
	if cfg.Storage.Endpoint != "" {
		store, err = storage.NewMinioStore(ctx, cfg.Storage)
		if err != nil {
			slog.Error("failed to connect to object storage", "error", err)
			os.Exit(1)
		}
	}

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	docSvc := document.NewService(db, imageStore(store))
	webhookSvc := webhook.NewService(db, queueClient, logger)

	coordinator := ingest.NewCoordinator(
		docSvc,
		rasterize.NewClient(cfg.Rasterizer),
		embedding.NewClient(cfg.Embedder),
		vectorstore.NewPgStore(db, cfg.Embedder.Dim, cfg.Embedder.PatchGrid, cfg.Embedder.Metric),
		objectStore(store),
		webhookSvc,
		ingest.Backoff{
			Base:        cfg.Ingest.BackoffBase,
			Cap:         cfg.Ingest.BackoffCap,
			MaxAttempts: cfg.Ingest.MaxAttempts,
		},
		logger,
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeDocumentIngest, asynq.HandlerFunc(workers.NewIngestWorker(coordinator).ProcessTask))
	mux.Handle(queue.TypeWebhookDeliver, asynq.HandlerFunc(workers.NewWebhookWorker(webhook.NewDeliverer(db, logger)).ProcessTask))

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

func imageStore(s *storage.MinioStore) document.ImageStore {
	if s == nil {
		return nil
	}
	return s
}

func objectStore(s *storage.MinioStore) ingest.ObjectStore {
	if s == nil {
		return nil
	}
	return s
}
