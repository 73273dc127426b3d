package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/medassist-platform/internal/analytics"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	httpmiddleware "github.com/wolfman30/medassist-platform/internal/http/middleware"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	AnalyticsHandler    *analytics.Handler
	MetricsHandler      http.Handler
	JWTSecret           string
	CORSAllowedOrigins  []string
	RateLimiter         *httpmiddleware.RateLimiter

	// HealthChecks are run by /health; a failing check turns the response into a 503.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ConversationHandler == nil {
		return r
	}
	h := cfg.ConversationHandler

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		api.Use(httpmiddleware.Authenticate(cfg.JWTSecret))

		api.Post("/wellness/symptoms", h.AnalyzeSymptoms)
		api.Post("/clinical_support/diagnosis", h.DifferentialDiagnosis)
		api.Post("/clinical_support/research", h.Research)

		api.Group(func(clinician chi.Router) {
			clinician.Use(httpmiddleware.RequireClinician)
			clinician.Get("/reviews/pending", h.PendingReviews)
			clinician.Post("/reviews/{conversationId}", h.Review)
			if cfg.AnalyticsHandler != nil {
				clinician.Get("/analytics/daily", cfg.AnalyticsHandler.Daily)
			}
		})

		api.Route("/{portal}", func(p chi.Router) {
			p.Post("/messages", h.SendMessage)
			p.Post("/voice", h.Voice)
			p.Get("/conversations", h.ListConversations)
			p.Route("/conversations/{id}", func(c chi.Router) {
				c.Get("/", h.GetConversation)
				c.Post("/rate", h.Rate)
				c.Post("/end", h.End)
			})
		})
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		resp := map[string]any{"status": "ok"}
		failed := map[string]string{}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp["checks"] = failed
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
