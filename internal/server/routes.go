package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	if s.config.Env == "dev" || s.config.Env == "development" {
		r.Use(middleware.NoCache)
	}

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Parse bearer tokens, enforcement happens per route group
	r.Use(jwtauth.Verifier(s.tokenAuth))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/health", s.healthHandler)
		r.Handle("/metrics", s.metrics.Handler())

		// Assembled files
		r.Get("/f/*", s.uploadHandler.HandleServeFile)
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Route("/uploads", func(r chi.Router) {
			if s.config.RateLimitPerMinute > 0 {
				r.Use(httprate.Limit(
					s.config.RateLimitPerMinute,
					time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(s.rateLimited),
				))
			}
			s.uploadHandler.Routes(r)
		})

		r.Route("/videos", s.videoHandler.Routes)
	})

	return r
}
