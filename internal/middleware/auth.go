package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pliu/nwitter/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// SessionCookie carries the session token for browser clients.
const SessionCookie = "session"

// Verifier checks a session token.
type Verifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Token extracts the session token from the Authorization header or the
// session cookie.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Query().Get("token")
}

func AuthMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := Token(r)
			if tok == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			id, err := v.Verify(r.Context(), tok)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity set by AuthMiddleware.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
