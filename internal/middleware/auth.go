package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go-storefront/internal/model"
)

type tokenParser interface {
	ParseAccessToken(tokenString string) (*model.AuthClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	parser tokenParser
}

func NewAuthMiddleware(parser tokenParser) *AuthMiddleware {
	return &AuthMiddleware{parser: parser}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization header")
			return
		}

		claims, err := m.parser.ParseAccessToken(strings.TrimSpace(header[7:]))
		if err != nil {
			message := "invalid token"
			if errors.Is(err, model.ErrTokenExpired) {
				message = "token expired"
			}
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
			return
		}

		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles lets the request through when the token carries any of
// allowedRoles.
func (m *AuthMiddleware) RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			for _, role := range allowedRoles {
				if claims.HasRole(strings.ToLower(strings.TrimSpace(role))) {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok
}

// WithClaims is used by handler tests to skip token parsing.
func WithClaims(ctx context.Context, claims *model.AuthClaims) context.Context {
	return context.WithValue(ctx, authClaimsContextKey, claims)
}

func writeAuthError(w http.ResponseWriter, status int, code string, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	writeJSONError(w, status, code, message)
}
