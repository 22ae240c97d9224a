package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/patchvec/patchvec/internal/api/handlers"
	"github.com/patchvec/patchvec/internal/api/middleware"
	"github.com/patchvec/patchvec/internal/auth"
	"github.com/patchvec/patchvec/internal/cache"
	"github.com/patchvec/patchvec/internal/collection"
	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/document"
	"github.com/patchvec/patchvec/internal/embedding"
	"github.com/patchvec/patchvec/internal/filter"
	"github.com/patchvec/patchvec/internal/metrics"
	"github.com/patchvec/patchvec/internal/queue"
	"github.com/patchvec/patchvec/internal/search"
	"github.com/patchvec/patchvec/internal/storage"
	"github.com/patchvec/patchvec/internal/vectorstore"
	"github.com/patchvec/patchvec/internal/webhook"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	store *storage.MinioStore
	cfg   *config.Config
	authn *auth.Middleware
}

// NewRouter wires the HTTP surface. store may be nil when object storage is
// not configured; inline uploads are rejected in that case.
func NewRouter(db *pgxpool.Pool, rdb *redis.Client, store *storage.MinioStore, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		store: store,
		cfg:   cfg,
		authn: auth.NewMiddleware(db),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	queueClient := queue.NewClient(rt.cfg.Redis)
	docSvc := document.NewService(rt.db, imageStore(rt.store))
	colSvc := collection.NewService(rt.db)
	webhookSvc := webhook.NewService(rt.db, queueClient, slog.Default())

	embedClient := embedding.NewClient(rt.cfg.Embedder)
	queryEmbedder := cache.NewCachedQueryEmbedder(
		embedClient, cache.NewCache(rt.redis), time.Hour, slog.Default())
	vs := vectorstore.NewPgStore(rt.db, rt.cfg.Embedder.Dim, rt.cfg.Embedder.PatchGrid, rt.cfg.Embedder.Metric)
	planner := search.NewPlanner(queryEmbedder, vs, filter.NewEngine(rt.db),
		rt.cfg.Search, rt.cfg.Embedder.Metric, slog.Default())

	docH := handlers.NewDocumentHandler(docSvc, queueClient, sourceUploader(rt.store), urlSigner(rt.store))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.authn.Authenticate)

		colH := handlers.NewCollectionHandler(colSvc)
		r.Route("/collections", func(r chi.Router) {
			r.Post("/", colH.Create)
			r.Get("/", colH.List)
			r.Route("/{collection}", func(r chi.Router) {
				r.Get("/", colH.Get)
				r.Patch("/", colH.Patch)
				r.Delete("/", colH.Delete)

				r.Route("/documents", func(r chi.Router) {
					r.Get("/", docH.List)
					r.Route("/{name}", func(r chi.Router) {
						r.Get("/", docH.Get)
						r.Patch("/", docH.Patch)
						r.Delete("/", docH.Delete)
						r.Get("/pages", docH.Pages)
						r.Get("/status", docH.Status)
					})
				})
			})
		})

		r.Post("/documents/upsert", docH.Upsert)

		searchH := handlers.NewSearchHandler(planner)
		r.Post("/search", searchH.Search)

		webhookH := handlers.NewWebhookHandler(webhookSvc)
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", webhookH.Create)
			r.Get("/", webhookH.List)
			r.Delete("/{id}", webhookH.Delete)
		})
	})

	return r
}

// A nil *MinioStore must become a nil interface, not a typed nil.

func imageStore(s *storage.MinioStore) document.ImageStore {
	if s == nil {
		return nil
	}
	return s
}

func sourceUploader(s *storage.MinioStore) handlers.SourceUploader {
	if s == nil {
		return nil
	}
	return s
}

func urlSigner(s *storage.MinioStore) handlers.URLSigner {
	if s == nil {
		return nil
	}
	return s
}
