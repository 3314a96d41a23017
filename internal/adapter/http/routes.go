package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/SpendPilot/internal/middleware"
)

// RouteOptions carries the optional per-route middleware of the API group.
type RouteOptions struct {
	RateLimiter *middleware.RateLimiter
	Idempotency func(http.Handler) http.Handler
}

// MountRoutes registers all API routes on the given chi router. Every
// /api/v1 route requires an X-Tenant-ID header.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantID)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		if opts.Idempotency != nil {
			r.Use(opts.Idempotency)
		}

		// Decisions
		r.Post("/requests", h.ProcessRequest)
		r.Post("/requests/batch", h.ProcessBatch)

		// Orchestrator state
		r.Get("/agents/metrics", h.AgentMetrics)
		r.Get("/orchestration/analytics", h.OrchestrationAnalytics)

		// Feedback
		r.Post("/feedback", h.SubmitFeedback)

		// Cross-company learning
		r.Route("/learning", func(r chi.Router) {
			r.Post("/recommendations", h.SpendingRecommendations)
			r.Post("/fraud-risk", h.FraudRisk)
			r.Post("/vendor-optimizations", h.VendorOptimizations)
			r.Post("/predictions", h.Predictions)
			r.Get("/insights", h.Insights)
			r.Get("/stats", h.LearningStats)
			r.Post("/history", h.IngestHistory)
		})

		// Payments
		r.Post("/payments/batch", h.PaymentBatch)
		r.Post("/payments/schedule", h.SchedulePayment)
		r.Get("/payments/{requestID}/attempts", h.PaymentAttempts)

		// Reimbursements
		r.Post("/reimbursements/batch", h.ReimbursementBatch)
	})
}
