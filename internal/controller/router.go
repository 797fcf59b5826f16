package controller

import (
	"net/netip"
	"time"

	"github.com/cassiomorais/billingsync/internal/infrastructure/config"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/billingsync/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	DB               Pinger
	Redis            Pinger
	Ingestor         WebhookIngestor
	SignatureHeaders map[string]string
	MaxBodyBytes     int64
	Health           HealthEvaluator
	FailedEvents     FailedEventLister
	PaymentRetries   PaymentRetryManager
	Checkout         CheckoutConfirmer
	IdempotencyStore customMW.ResponseStore
	Metrics          *observability.Metrics
	ExposeMetrics    bool
	CORSConfig       config.CORSConfig
	RateLimitRPM     int
	JWTSecret        string
	TrustedProxies   []netip.Prefix
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(customMW.RealIP(deps.TrustedProxies))
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.DB, deps.Redis)
	webhookH := NewWebhookController(deps.Ingestor, deps.SignatureHeaders, deps.MaxBodyBytes)
	internalH := NewInternalController(deps.Health, deps.FailedEvents, deps.PaymentRetries)
	checkoutH := NewCheckoutController(deps.Checkout)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	if deps.ExposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Gateway deliveries are rate limited per provider by the security
	// validator, not per IP.
	r.Post("/webhooks/{provider}", webhookH.Receive)

	r.Group(func(r chi.Router) {
		if deps.RateLimitRPM > 0 {
			r.Use(customMW.RateLimit(deps.RateLimitRPM))
		}

		r.Route("/internal", func(r chi.Router) {
			if deps.JWTSecret != "" {
				r.Use(customMW.RequireAuth(deps.JWTSecret))
				r.Use(customMW.RequireRole(customMW.RoleOperator))
			}
			r.Get("/webhook-health", internalH.WebhookHealth)
			r.Get("/failed-events", internalH.ListFailedEvents)
			r.Get("/payment-retries/{paymentId}", internalH.GetPaymentRetry)
			r.Post("/payment-retries/{paymentId}/cancel", internalH.CancelPaymentRetry)
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret))

			r.With(customMW.Idempotency(deps.IdempotencyStore)).Post("/checkout/confirm", checkoutH.Confirm)
		})
	})

	return r
}
