package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/config"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/handlers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/metrics"
	requesttracking "github.com/Arwindpianist/sunrise-2025-sub000/internal/middleware"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/worker"
)

// PolicyStore is everything the per-user routes read and write.
type PolicyStore interface {
	handlers.PlanChanger
	handlers.TokenSpender
	handlers.WebhookStore
}

// JobStore is the queue surface the job routes use.
type JobStore interface {
	handlers.JobReader
	handlers.Enqueuer
}

// Billing bundles the Stripe client roles. Either field may be nil to
// disable the matching route.
type Billing struct {
	Checkout handlers.TokenCheckout
	Webhook  handlers.WebhookParser
}

// Deps are the collaborators the router is built from. DB, Jobs, Worker and
// Billing are optional.
type Deps struct {
	Store   PolicyStore
	DB      handlers.Pinger
	Jobs    JobStore
	Worker  *worker.Worker
	Billing Billing
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
}

// New constructs an HTTP server using the provided configuration and storage clients.
func New(cfg config.Config, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requesttracking.RequestTracker)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handlers.Health(deps.DB))
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/tiers", handlers.Catalog())
		r.Get("/tiers/{tier}", handlers.TierDetail())

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/subscription", handlers.Subscription(deps.Store))
			r.Get("/limits", handlers.Limits(deps.Store))
			r.Get("/capabilities/{action}", handlers.Capability(deps.Store))
			r.Get("/upgrade", handlers.Upgrade(deps.Store))
			r.Get("/tokens", handlers.Tokens(deps.Store))
			r.Post("/tokens/purchase-check", handlers.PurchaseCheck(deps.Store))
			r.Post("/tokens/spend", handlers.Spend(deps.Store))
			r.Post("/plan-change/preview", handlers.PreviewPlanChange(deps.Store))
			r.Post("/plan-change", handlers.ApplyPlanChange(deps.Store))
		})

		if deps.Billing.Checkout != nil {
			r.Post("/billing/checkout", handlers.Checkout(deps.Store, deps.Billing.Checkout))
		}
		if deps.Billing.Webhook != nil {
			var enq handlers.Enqueuer
			if deps.Jobs != nil {
				enq = deps.Jobs
			}
			r.Post("/billing/webhook", handlers.StripeWebhook(deps.Billing.Webhook, deps.Store, enq, cfg.NearLimitNotices))
		}

		if deps.Jobs != nil {
			var ws handlers.WorkerStats
			if deps.Worker != nil {
				ws = deps.Worker
			}
			r.Get("/jobs/stats", handlers.JobStats(deps.Jobs, ws))
			r.Get("/jobs/{id}", handlers.GetJob(deps.Jobs))
			r.Post("/jobs/grant-sweep", handlers.TriggerGrantSweep(deps.Jobs))
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker}
}

// Start starts the worker and then serves HTTP traffic until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.worker != nil {
		log.Info().Msg("[server] starting job worker")
		s.worker.Start(ctx)
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("[server] listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		log.Info().Msg("[server] shutting down job worker")
		if err := s.worker.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("[server] worker shutdown error")
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
