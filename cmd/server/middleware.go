package main

import (
	"log/slog"
	"net/http"
)

// recoveryMiddleware converts a panic in a handler into a 500 response
// instead of crashing the process, so one bad request never takes down
// every in-flight provider session.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":{"message":"internal error","type":"internal"}}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware applies a permissive-but-explicit CORS policy for the
// client-facing REST surface. The broker has no admin UI to scope
// origins against, so every origin is mirrored back rather than using
// "*". Access-Control-Allow-Credentials is not set, so browsers do not
// expose responses to credentialed (cookie-bearing) cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

