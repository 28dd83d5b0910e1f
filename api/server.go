/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/referrals/*      Referral program (public, account, owner)
  /api/scenarios/*      Demo scenarios (owner)
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate and RequireRole middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/referral-engine/logging"
)

// RouterConfig carries the cross-cutting pieces the router needs.
type RouterConfig struct {
	Auth           *Authenticator
	AllowedOrigins []string
	// Gatherer backs /metrics. The endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/referrals", func(r chi.Router) {
			// Public routes
			r.Get("/validate/{code}", h.ValidateCode)
			r.Get("/validate", h.ValidateCode)
			r.Get("/current", h.CurrentPrograms)

			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.Authenticate)

				// Account routes
				r.Get("/my-code", h.MyCode)
				r.Get("/my-referrals", h.MyReferrals)
				r.Get("/my-credits", h.MyCredits)
				r.Post("/apply-credits", h.ApplyCredits)
				r.Post("/share", h.Share)

				// Owner routes
				r.Group(func(r chi.Router) {
					r.Use(RequireRole(RoleOwner))
					r.Get("/config", h.GetConfig)
					r.Put("/config", h.UpdateConfig)
					r.Get("/history", h.ConfigHistory)
					r.Get("/all", h.ListAllReferrals)
					r.Patch("/{id}/status", h.UpdateReferralStatus)
					r.Post("/completions", h.RecordCompletion)
				})
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(cfg.Auth.Authenticate)
			r.Use(RequireRole(RoleOwner))
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
