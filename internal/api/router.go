package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kunal1000-star/contextcore/internal/api/handlers"
	"github.com/kunal1000-star/contextcore/internal/api/middleware"
	"github.com/kunal1000-star/contextcore/internal/auth"
	"github.com/kunal1000-star/contextcore/internal/config"
	"github.com/kunal1000-star/contextcore/internal/contextengine"
	"github.com/kunal1000-star/contextcore/internal/llm"
	"github.com/kunal1000-star/contextcore/internal/memorystore"
	"github.com/kunal1000-star/contextcore/internal/profile"
	"github.com/kunal1000-star/contextcore/internal/queue"
)

type Router struct {
	mux    *chi.Mux
	db     *pgxpool.Pool
	redis  *redis.Client
	cfg    *config.Config
	engine *contextengine.Engine
	jwt    *auth.JWTMiddleware
	apikey *auth.APIKeyMiddleware
	llmGW  llm.Gateway
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, engine *contextengine.Engine, llmGW llm.Gateway) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		db:     db,
		redis:  rdb,
		cfg:    cfg,
		engine: engine,
		jwt:    auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		apikey: auth.NewAPIKeyMiddleware(cfg.Auth.APIKeyHeader, cfg.Auth.APIKeys),
		llmGW:  llmGW,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	profiles := profile.NewStore(rt.db)
	memories := memorystore.NewStore(rt.db)
	queueClient := queue.NewClient(rt.cfg.Redis)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth: try API key first, then JWT
		r.Use(rt.apikey.Authenticate)
		r.Use(rt.jwt.Authenticate)

		ctxH := handlers.NewContextHandler(rt.engine)
		r.Route("/context", func(r chi.Router) {
			r.Post("/build", ctxH.Build)
			r.Post("/optimize", ctxH.Optimize)
			r.Post("/score", ctxH.Score)
			r.Get("/cache/stats", ctxH.CacheStats)
		})

		chatH := handlers.NewChatHandler(rt.engine, rt.llmGW, memories, profiles, rt.cfg.LLM.DefaultModel)
		r.Post("/chat", chatH.Chat)
		r.Get("/llm/models", chatH.Models)

		knowledgeH := handlers.NewKnowledgeHandler(queueClient)
		r.Post("/knowledge/documents", knowledgeH.Ingest)
	})

	return r
}
