package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"bazaar.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// /ws authenticates from its query string during the handshake.
var publicPaths = []string{
	"/v1/auth/signup",
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/ws",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.directory == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bazaar"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		session, err := a.directory.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUserNotFound):
				w.Header().Set("WWW-Authenticate", `Bearer realm="bazaar", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
	})
}

// RequireAdmin rejects requests whose session is not an administrator.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bazaar"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !session.Admin {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bazaar", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
