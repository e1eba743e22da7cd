package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/paywall/verifier/internal/metrics"
	"github.com/paywall/verifier/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted. verdicts
// may be nil, in which case the audit endpoints are not served.
func NewRouter(
	verifier Verifier,
	builder PaymentBuilder,
	verdicts *repository.VerdictRepo,
	log *zap.Logger,
) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		verifier: verifier,
		builder:  builder,
		verdicts: verdicts,
		log:      log.Named("api"),
		now:      time.Now,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Post("/verify", h.Verify)
		r.Post("/payment-output", h.PaymentOutput)

		// Audit log.
		if verdicts != nil {
			r.Get("/verdicts", h.ListVerdicts)
			r.Get("/verdicts/{txid}", h.GetVerdicts)
			r.Get("/discrepancies/summary", h.GetDiscrepancySummary)
		}
	})

	return r
}

// metricsMiddleware records request latency by route pattern and status.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTP(route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}
