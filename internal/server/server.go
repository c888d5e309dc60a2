// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/deployproof/internal/auth"
	"github.com/pendergraft/deployproof/internal/config"
	"github.com/pendergraft/deployproof/internal/middleware/logging"
	"github.com/pendergraft/deployproof/internal/middleware/ratelimit"
	"github.com/pendergraft/deployproof/internal/middleware/realip"
	"github.com/pendergraft/deployproof/internal/middleware/security"
	"github.com/pendergraft/deployproof/internal/observability/metrics"
	"github.com/pendergraft/deployproof/internal/storage"
	verificationDomain "github.com/pendergraft/deployproof/internal/verification/domain"
	verificationTransport "github.com/pendergraft/deployproof/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	verificationSvc verificationTransport.Service
}

// New creates a new server backed by the production verifier.
func New(cfg *config.Config, store storage.Store, logger *slog.Logger) (*Server, error) {
	verifyImpl, err := verificationDomain.NewFromConfig(cfg.Verifier, store, logger)
	if err != nil {
		return nil, err
	}
	return NewWithService(cfg, store, verificationDomain.LoggingMiddleware(logger)(verifyImpl), logger), nil
}

// NewWithService creates a server around an existing verification service.
func NewWithService(cfg *config.Config, store storage.Store, svc verificationTransport.Service, logger *slog.Logger) *Server {
	metrics.Init(cfg.Metrics.Enabled, cfg.Metrics.ServiceName)

	s := &Server{
		cfg:             cfg,
		store:           store,
		logger:          logger,
		router:          chi.NewRouter(),
		verificationSvc: svc,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// Real IP first so every later middleware sees the client address.
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(security.MaxBodySize(s.cfg.Security.MaxBodySizeMB))
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	if metrics.Enabled() {
		s.router.Handle("/metrics", metrics.Handler())
	}

	verificationHandler := verificationTransport.NewHandler(s.verificationSvc, verificationTransport.Options{
		DefaultRPCURL: s.cfg.Verifier.RPCURL,
		Timeout:       time.Duration(s.cfg.Verifier.Timeout) * time.Second,

		AllowLocalRepositories: s.cfg.Verifier.AllowLocalRepositories,
	})

	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/verifications", func(r chi.Router) {
			verificationHandler.RegisterReadRoutes(r)

			// Runs clone and compile arbitrary repositories, so they need a key.
			r.Group(func(r chi.Router) {
				requireAuth(r)
				r.Use(s.logSubmitter)
				r.Use(security.RequireJSON)
				verificationHandler.RegisterWriteRoutes(r)
			})
		})
	})
}

// logSubmitter attributes a verification run to the key that started it.
func (s *Server) logSubmitter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if keyID := auth.GetKeyIDFromContext(r.Context()); keyID != "" {
			s.logger.Info("verification submitted",
				"request_id", middleware.GetReqID(r.Context()),
				"key_id", keyID,
				"key_name", auth.GetAPIKeyFromContext(r.Context()).Name,
			)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the audit store is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
