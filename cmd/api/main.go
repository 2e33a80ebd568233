package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kunal1000-star/contextcore/internal/api"
	"github.com/kunal1000-star/contextcore/internal/cache"
	"github.com/kunal1000-star/contextcore/internal/config"
	"github.com/kunal1000-star/contextcore/internal/contextengine"
	"github.com/kunal1000-star/contextcore/internal/database"
	"github.com/kunal1000-star/contextcore/internal/knowledge"
	"github.com/kunal1000-star/contextcore/internal/llm"
	"github.com/kunal1000-star/contextcore/internal/memorystore"
	"github.com/kunal1000-star/contextcore/internal/profile"
	"github.com/kunal1000-star/contextcore/pkg/tokenizer"
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

	// Database connection (optional, the engine degrades to fallback
	// snapshots without it)
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Warn("database unavailable, serving fallback contexts", "error", err)
	} else {
		defer db.Close()

		if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
			slog.Warn("migrations failed", "error", err)
		}
	}

	// Redis connection (optional)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisOK := true
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without shared snapshot cache", "error", err)
		redisOK = false
	}
	defer rdb.Close()

	gateway := llm.NewGateway(cfg.LLM)

	var (
		profiles  contextengine.ProfileFetcher
		memories  contextengine.MemoryFetcher
		knowStore contextengine.KnowledgeFetcher
	)
	if db != nil {
		profiles = profile.NewStore(db)
		memories = memorystore.NewStore(db)
		knowStore = knowledge.NewStore(db, gateway)
	}

	engine, err := contextengine.NewEngine(engineConfig(cfg.Context), tokenizer.CountTokens, profiles, memories, knowStore)
	if err != nil {
		slog.Error("failed to build context engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if redisOK {
		engine.WithSnapshotStore(cache.NewSnapshotStore(cache.NewCache(rdb)))
	}

	router := api.NewRouter(db, rdb, cfg, engine, gateway)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func engineConfig(c config.ContextConfig) contextengine.Config {
	return contextengine.Config{
		Weights: contextengine.FactorWeights{
			Recency:    c.RecencyWeight,
			Quality:    c.QualityWeight,
			QueryMatch: c.QueryMatchWeight,
			Importance: c.ImportanceWeight,
			Frequency:  c.FrequencyWeight,
			CrossRef:   c.CrossRefWeight,
		},
		RelevanceThreshold: c.RelevanceThreshold,
		Aggressiveness:     contextengine.Aggressiveness(c.Aggressiveness),
		CacheTTL:           c.CacheTTL,
		CacheCapacity:      c.CacheCapacity,
		SweepInterval:      c.SweepInterval,
		MemoryLimit:        c.MemoryLimit,
	}
}
