package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dd0wney/malaphor/pkg/auth"
)

// Authenticator resolves request credentials. *auth.Authenticator
// implements it.
type Authenticator interface {
	Enabled() bool
	Authenticate(ctx context.Context, bearer, apiKey string) (*auth.Principal, error)
}

// Auth requires a principal holding at least role. It reads a Bearer token
// or an X-API-Key header and stores the principal in the request context.
// With a disabled authenticator every request passes. onFailure, when
// set, is called for each rejected request.
func Auth(a Authenticator, role string, onFailure func(*http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil || !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := ""
			if h := r.Header.Get("Authorization"); h != "" {
				scheme, token, ok := strings.Cut(h, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") {
					reject(w, r, onFailure, auth.ErrInvalidToken)
					return
				}
				bearer = strings.TrimSpace(token)
			}

			p, err := a.Authenticate(r.Context(), bearer, r.Header.Get("X-API-Key"))
			if err != nil {
				reject(w, r, onFailure, err)
				return
			}
			if !p.Allows(role) {
				// onFailure still sees who was refused.
				reject(w, r.WithContext(auth.WithPrincipal(r.Context(), p)), onFailure, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, onFailure func(*http.Request, error), err error) {
	if onFailure != nil {
		onFailure(r, err)
	}
	switch {
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "insufficient role")
	case errors.Is(err, auth.ErrNoCredentials):
		w.Header().Set("WWW-Authenticate", `Bearer realm="malaphor"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "token expired")
	default:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	}
}
