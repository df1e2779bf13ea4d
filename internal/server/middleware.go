package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/rs/zerolog/log"

	"reelhub-go/internal/uploader"
)

// AuthMiddleware rejects invalid bearer tokens. Requests without a token pass
// as anonymous callers unless the server requires authentication.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())

		switch {
		case err == nil && token != nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, jwtauth.ErrNoTokenFound) && !s.config.AuthRequired:
			next.ServeHTTP(w, r)
		default:
			log.Debug().
				Err(err).
				Str("path", r.URL.Path).
				Msg("rejected unauthenticated request")
			uploader.HandleError(w, &uploader.APIError{
				Code:    uploader.ErrCodeUnauthorized,
				Message: "Missing or invalid bearer token",
			}, http.StatusUnauthorized)
		}
	})
}

// RequestLogger writes one structured line per request
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			entry := log.Info()
			if ww.Status() >= http.StatusInternalServerError {
				entry = log.Error()
			}
			entry.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("request completed")
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	uploader.HandleError(w, &uploader.APIError{
		Code:    "RATE_LIMITED",
		Message: "Too many requests, slow down",
	}, http.StatusTooManyRequests)
}
