package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/classhub/chat-service/internal/auth"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// AuthMiddleware проверяет Bearer-токен через Verifier; без валидной
// личности запрос дальше не идёт.
func AuthMiddleware(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") || len(authz) <= 7 {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(strings.TrimSpace(authz[7:]))
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromCtx(ctx context.Context) (auth.Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity).(auth.Identity)
	return v, ok
}

func UserIDFromCtx(ctx context.Context) int64 {
	if id, ok := IdentityFromCtx(ctx); ok {
		return id.UserID
	}
	return 0
}
