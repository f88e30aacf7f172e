package http

import (
	"divvi/internal/api/http/handlers"
	"divvi/internal/api/http/mw"
	"divvi/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func BuildRouter(
	h *handlers.Handler,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if gzipMW != nil {
		r.Use(gzipMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoints, no auth
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.Readiness)
	r.Mount("/metrics", metrics.Handler())

	// api endpoints behind rate limit and jwt
	r.Route("/api", func(api chi.Router) {
		if rateLimitMW != nil {
			api.Use(rateLimitMW.Handler)
		}
		if jwtMW != nil {
			api.Use(jwtMW.Handler)
		}

		api.Get("/revenue/{protocol}", h.CalculateRevenue)
		api.Route("/referrals", func(ref chi.Router) {
			ref.Get("/{protocol}/qualified", h.QualifiedReferrals)
			ref.Get("/{protocol}/registered", h.RegisteredReferrals)
		})
	})

	return r
}
