package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/infrastructure/config"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/chainpay/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// RouterDeps wires the HTTP surface. The API routes are mounted only when
// RefundService is set, so the worker binary can serve health and metrics
// from the same router.
type RouterDeps struct {
	DB            Pinger
	RedisClient   redis.UniversalClient
	Sessions      payment.Repository
	RefundService RefundService
	Verifier      PaymentVerifier
	Worker        WorkerHealth
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	CORSConfig    config.CORSConfig
	JWTSecret     string
	// RateLimitPerMinute guards the verify and refund endpoints; 0 disables it.
	RateLimitPerMinute int
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "Authorization"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.DB, deps.RedisClient, deps.Worker)
	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)
	r.Get("/health/worker", healthH.Worker)

	r.Handle("/metrics", metricsHandler(deps.Gatherer))

	if deps.RefundService != nil {
		refundH := NewRefundController(deps.RefundService)
		verifyH := NewVerificationController(deps.Sessions, deps.Verifier)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret))

			r.Group(func(r chi.Router) {
				if deps.RateLimitPerMinute > 0 {
					r.Use(customMW.RateLimit(deps.RateLimitPerMinute))
				}
				r.Post("/payment-sessions/{id}/verify", verifyH.Verify)
				r.Post("/payment-sessions/{id}/refunds", refundH.CreateRefund)
			})
			r.Get("/refunds/{id}", refundH.GetRefund)
		})
	}

	return r
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
