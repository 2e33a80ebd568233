package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kunal1000-star/contextcore/internal/config"
	"github.com/kunal1000-star/contextcore/internal/database"
	"github.com/kunal1000-star/contextcore/internal/knowledge"
	"github.com/kunal1000-star/contextcore/internal/llm"
	"github.com/kunal1000-star/contextcore/internal/memorystore"
	"github.com/kunal1000-star/contextcore/internal/queue"
	"github.com/kunal1000-star/contextcore/internal/queue/workers"
)

const (
	summarizeScanInterval = 6 * time.Hour
	summarizeAge          = 7 * 24 * time.Hour
	summarizeScanLimit    = 100
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("worker requires a database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	gateway := llm.NewGateway(cfg.LLM)
	memories := memorystore.NewStore(db)
	knowStore := knowledge.NewStore(db, gateway)
	ingestor := knowledge.NewIngestor(knowStore, gateway)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	ingestWorker := workers.NewIngestWorker(ingestor)
	summarizeWorker := workers.NewSummarizeWorker(memories, gateway, cfg.LLM.DefaultModel)

	registry.Register(queue.TypeKnowledgeIngest, asynq.HandlerFunc(ingestWorker.ProcessTask))
	registry.Register(queue.TypeMemorySummarize, asynq.HandlerFunc(summarizeWorker.ProcessTask))

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()
	go scheduleSummarization(ctx, memories, queueClient)

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

// scheduleSummarization periodically enqueues a summarization task for
// every user with old unsummarized memories.
func scheduleSummarization(ctx context.Context, memories *memorystore.Store, qc *queue.Client) {
	ticker := time.NewTicker(summarizeScanInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-summarizeAge)
		users, err := memories.ListActiveUsers(ctx, cutoff, summarizeScanLimit)
		if err != nil {
			slog.Warn("summarization scan failed", "error", err)
		}
		for _, userID := range users {
			if err := qc.EnqueueMemorySummarize(queue.MemorySummarizePayload{UserID: userID}); err != nil {
				slog.Warn("failed to enqueue summarization", "user_id", userID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
