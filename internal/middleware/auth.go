package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/josh-kwaku/campus-ledger/internal/auth"
	"github.com/josh-kwaku/campus-ledger/internal/handler"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

// Auth validates the bearer token and admits only the listed roles.
func Auth(secret string, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			if !slices.Contains(roles, claims.Role) {
				logging.FromContext(r.Context()).Warn("role not permitted",
					"subject", claims.Subject,
					"role", claims.Role,
					"path", r.URL.Path,
				)
				handler.RespondAppError(w, handler.ErrForbidden, nil)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = logging.With(ctx, "subject", claims.Subject, "role", claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
