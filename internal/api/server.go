// Package api exposes the HTTP surface: the send API, delivery and
// campaign queries, and the provider webhook ingress.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/piquet/courier/internal/config"
	"github.com/piquet/courier/internal/dispatch"
	"github.com/piquet/courier/internal/metrics"
	"github.com/piquet/courier/internal/sandbox"
	"github.com/piquet/courier/internal/store"
	"github.com/piquet/courier/internal/webhook"
	"github.com/piquet/courier/internal/worker"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	dispatcher *dispatch.Dispatcher
	worker     *worker.Worker
	reconciler *webhook.Reconciler
	verifier   *webhook.Verifier

	deliveries *store.DeliveryRepository
	campaigns  *store.CampaignRepository
	templates  *store.TemplateRepository
	sandbox    *sandbox.Storage

	metrics   *metrics.Metrics
	config    *config.Config
	logger    *slog.Logger
	startTime time.Time
}

// ServerOptions bundles the server dependencies.
type ServerOptions struct {
	Config     *config.Config
	DB         *store.DB
	Dispatcher *dispatch.Dispatcher
	Worker     *worker.Worker
	Reconciler *webhook.Reconciler
	Verifier   *webhook.Verifier
	Sandbox    *sandbox.Storage
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		dispatcher: opts.Dispatcher,
		worker:     opts.Worker,
		reconciler: opts.Reconciler,
		verifier:   opts.Verifier,
		deliveries: store.NewDeliveryRepository(opts.DB),
		campaigns:  store.NewCampaignRepository(opts.DB),
		templates:  store.NewTemplateRepository(opts.DB),
		sandbox:    opts.Sandbox,
		metrics:    opts.Metrics,
		config:     opts.Config,
		logger:     opts.Logger.With("component", "api"),
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	// Webhook ingress authenticates by signature, not API key
	s.router.Post("/webhooks/resend", s.handleWebhook)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/send", s.handleSend)
		r.Post("/send/template", s.handleSendTemplate)
		r.Post("/send/bulk", s.handleSendBulk)

		r.Get("/deliveries", s.handleListDeliveries)
		r.Get("/deliveries/{id}", s.handleGetDelivery)

		r.Post("/templates", s.handleCreateTemplate)

		r.Post("/campaigns/{id}/recipients", s.handleCreateRecipient)
		r.Get("/campaigns/{id}/stats", s.handleCampaignStats)

		r.Post("/retry-queue/run", s.handleRunRetryQueue)

		if s.sandbox != nil {
			r.Get("/sandbox/messages", s.handleSandboxList)
			r.Delete("/sandbox/messages", s.handleSandboxClear)
		}
	})
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
