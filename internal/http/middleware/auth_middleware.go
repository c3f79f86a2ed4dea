package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware accepts a bearer access token from the Authorization header
// or, for websocket upgrades that cannot set headers, the access_token query
// parameter.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, response.CodeUnauthorized, "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, response.CodeUnauthorized, "invalid access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	if isWebsocketUpgrade(r) {
		if raw := strings.TrimSpace(r.URL.Query().Get("access_token")); raw != "" {
			return raw, "query"
		}
	}
	return "", "none"
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

// OwnerIDFromContext returns the authenticated user id.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.Subject == "" {
		return "", false
	}
	return c.Subject, true
}
