package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/listenupapp/listenup-captions/internal/http/response"
)

// requestLogger logs each request through slog once it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// sessionToken extracts the session handle from a Bearer Authorization header.
func sessionToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", huma.Error401Unauthorized("Missing authorization header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", huma.Error401Unauthorized("Invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// resolveStreamSession narrows the event stream to the caller's session when
// a handle is supplied as a Bearer header or a token query parameter.
// EventSource cannot set headers, hence the query fallback.
func (s *Server) resolveStreamSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get("token")
		if h := r.Header.Get("Authorization"); h != "" {
			var err error
			if token, err = sessionToken(h); err != nil {
				response.Error(w, http.StatusUnauthorized, err.Error(), s.logger)
				return
			}
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		sessionID, err := s.services.Playback.SessionID(token)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}

		q.Del("token")
		q.Set("session_id", sessionID)
		r2 := r.Clone(r.Context())
		r2.URL.RawQuery = q.Encode()
		next.ServeHTTP(w, r2)
	})
}
