package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/llmule/broker/internal/observability"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// AuthContextKey is the context key for AuthContext.
const AuthContextKey contextKey = "auth"

// Middleware provides HTTP middleware for bearer credential authentication.
type Middleware struct {
	store                  Store
	log                    *observability.Logger
	skipPaths              map[string]bool
	lastUsedUpdateInterval time.Duration
}

// MiddlewareConfig contains configuration for the auth middleware.
type MiddlewareConfig struct {
	Store                  Store
	Logger                 *observability.Logger
	SkipPaths              []string // e.g. /healthz, /metrics
	LastUsedUpdateInterval time.Duration
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(cfg *MiddlewareConfig) *Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}
	return &Middleware{
		store:                  cfg.Store,
		log:                    cfg.Logger,
		skipPaths:              skipPaths,
		lastUsedUpdateInterval: cfg.LastUsedUpdateInterval,
	}
}

// Authenticate returns an HTTP middleware that resolves the credential
// (the Authorization header, or the x-api-key header when Authorization
// is absent) to an Account and attaches it to the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("x-api-key")
		}
		apiKey, err := ParseAuthHeader(authHeader)
		if err != nil {
			m.writeUnauthorized(w, "missing or invalid authorization header")
			return
		}

		keyHash := HashKey(apiKey)
		acct, err := m.store.GetAccountByHash(r.Context(), keyHash)
		if err != nil {
			if m.log != nil {
				m.log.RedactedError("failed to look up account", "error", err)
			}
			m.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if acct == nil {
			m.writeUnauthorized(w, "invalid api key")
			return
		}
		if !acct.IsActive {
			m.writeUnauthorized(w, "account is inactive")
			return
		}

		now := time.Now()
		if m.shouldUpdateLastUsed(acct.LastUsedAt, now) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			if err := m.store.UpdateLastUsed(ctx, acct.ID, now); err != nil && m.log != nil {
				m.log.RedactedWarn("failed to update last_used_at", "error", err, "account_id", acct.ID)
			}
			cancel()
		}

		authCtx := &AuthContext{Account: acct}
		ctx := context.WithValue(r.Context(), AuthContextKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) shouldUpdateLastUsed(lastUsed *time.Time, now time.Time) bool {
	if m.lastUsedUpdateInterval <= 0 || lastUsed == nil {
		return true
	}
	if lastUsed.After(now) {
		return false
	}
	return now.Sub(*lastUsed) >= m.lastUsedUpdateInterval
}

// GetAuthContext retrieves the AuthContext from the request context.
func GetAuthContext(ctx context.Context) *AuthContext {
	if auth, ok := ctx.Value(AuthContextKey).(*AuthContext); ok {
		return auth
	}
	return nil
}

func (m *Middleware) writeUnauthorized(w http.ResponseWriter, message string) {
	m.writeError(w, http.StatusUnauthorized, message)
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"authentication_error"}}`))
}
