package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/adapters/metrics"
)

// Config holds HTTP server settings
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
}

// Server hosts the webhook intake endpoint, the admin surface and the
// operational endpoints (health, metrics).
type Server struct {
	cfg     Config
	router  chi.Router
	httpSrv *http.Server
	log     zerolog.Logger
}

// NewServer builds the server and mounts all routes
func NewServer(cfg Config, webhooks *WebhookHandler, admin *AdminHandler, log zerolog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg: cfg,
		log: log.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if cfg.MetricsEnabled && metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/traveltek/cruiseline-pricing-updated", webhooks.HandlePricingUpdated)

		if admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/flags", admin.ListFlags)
				r.Put("/flags/{key}", admin.SetFlag)
				r.Get("/pending-syncs", admin.PendingSyncs)
				r.Get("/webhook-events", admin.RecentEvents)
				r.Post("/webhook-events/{id}/retry", admin.RetryEvent)
				r.Post("/queues/{queue}/requeue-dead", admin.RequeueDead)
			})
		}
	})

	s.router = r
	s.httpSrv = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router exposes the handler tree, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.log.Info().Str("address", s.cfg.Address).Msg("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
