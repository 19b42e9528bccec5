package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/peagelabs/peage/internal/auth"
	"github.com/peagelabs/peage/internal/metrics"
	"github.com/peagelabs/peage/internal/ratelimit"
	"github.com/peagelabs/peage/internal/ui"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Chat        ChatService
	Engine      PolicyAdmin
	Decisions   DecisionLog
	Settlements SettlementLog
	Operators   OperatorService
	Sessions    auth.SessionLookup
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	AdminKey    string
	CORSOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(secureHeaders)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			MaxAge:         86400,
		}))
	}

	// Handlers.
	chat := newChatHandler(deps.Chat)
	policies := newPoliciesHandler(deps.Engine, deps.Decisions, deps.Settlements)
	accounts := newAuthHandler(deps.Operators)

	// Admin console.
	r.Get("/", ui.Handler().ServeHTTP)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Chat and read-only session/trace routes.
	r.Route("/api/v1", func(pr chi.Router) {
		chatRoutes := func(cr chi.Router) {
			if deps.Limiter != nil {
				onReject := func() {}
				if deps.Metrics != nil {
					onReject = deps.Metrics.IncRateLimitRejection
				}
				cr.Use(ratelimit.Middleware(deps.Limiter, onReject))
			}
			cr.Post("/chat", chat.Chat)
		}
		pr.Group(chatRoutes)

		pr.Get("/sessions/{id}/spend", chat.SessionSpend)
		pr.Get("/sessions/{id}/trace", chat.SessionTrace)
		pr.Get("/traces/{id}", chat.GetTrace)
	})

	// Operator login (unauthenticated).
	r.Post("/api/v1/admin/login", accounts.Login)

	// Admin routes (admin key or operator session).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminAuthMiddleware(deps.AdminKey, deps.Sessions))

		ar.Post("/logout", accounts.Logout)

		// Policy management.
		ar.Get("/policies", policies.ListPolicies)
		ar.Get("/policies/{agentID}", policies.GetPolicy)
		ar.Put("/policies/{agentID}", policies.UpdatePolicy)
		ar.Post("/policies/{agentID}/freeze", policies.FreezePolicy)

		// Audit logs.
		ar.Get("/decisions", policies.ListDecisions)
		ar.Get("/settlements", policies.ListSettlements)

		// Operational metrics summary.
		if deps.Metrics != nil {
			ar.Get("/metrics", deps.Metrics.Handler())
		}
	})

	return r
}
