package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/ntentasd/acuamon-api/pkg/utils"
)

type ctxKey struct{}

// FromContext returns the claims Middleware attached to the request.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// Middleware rejects requests without a valid bearer token.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			utils.ReplyError(w, http.StatusUnauthorized, "autenticación requerida", nil)
			return
		}
		claims, err := i.Verify(strings.TrimSpace(raw))
		if err != nil {
			utils.ReplyError(w, http.StatusUnauthorized, "token inválido o expirado", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole lets through only the given roles. It must run after Middleware.
func RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				utils.ReplyError(w, http.StatusUnauthorized, "autenticación requerida", nil)
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.ReplyError(w, http.StatusForbidden, "permisos insuficientes", nil)
		})
	}
}
