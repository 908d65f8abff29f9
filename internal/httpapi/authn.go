package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"campusvote.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
	"/v1/info": true,
}

// withAuth verifies the bearer token and attaches the caller identity. Public
// paths and CORS preflight pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if a.tokens == nil {
			writeError(w, r, http.StatusUnauthorized, kindUnauthenticated, "authentication is not configured")
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="campusvote"`)
			writeError(w, r, http.StatusUnauthorized, kindUnauthenticated, err.Error())
			return
		}
		who, err := a.tokens.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="campusvote", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, kindUnauthenticated, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.ContextWithIdentity(r.Context(), who)))
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
