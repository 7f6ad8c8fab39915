package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"dphub/internal/security"
)

type principalKey struct{}

// WithPrincipal stores the authenticated principal in the context.
func WithPrincipal(ctx context.Context, p *security.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, or nil for an
// anonymous request.
func PrincipalFromContext(ctx context.Context) *security.Principal {
	p, _ := ctx.Value(principalKey{}).(*security.Principal)
	return p
}

// Authenticator validates an optional bearer token and puts the resulting
// principal in the request context. A missing token passes through as
// anonymous: whether auth is required is a per-product policy enforced
// downstream. A present-but-invalid token is rejected with 401.
//
// appIDClaim names the claim carrying the caller's application id
// (typically azp).
func Authenticator(validator TokenValidator, appIDClaim string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				log.Warn("rejecting invalid bearer token", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "401",
						"message": "invalid access token",
					},
				})
				return
			}

			p := &security.Principal{Subject: claims.Subject, Claims: claims.Raw}
			if v, ok := claims.Raw[appIDClaim].(string); ok {
				p.AppID = v
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
