// ABOUTME: HTTP middleware resolving the bearer credential into a Principal
// ABOUTME: Rejects with a uniform 401 and never reveals which verifier refused

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// PrincipalRegistrar records principals as they are seen. Registration is
// best effort; a failure does not reject the request.
type PrincipalRegistrar interface {
	RegisterPrincipal(ctx context.Context, p Principal) error
}

// ExtractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func ExtractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware resolves the request's bearer credential and stores the
// Principal in the request context. registrar and logger may be nil.
func HTTPAuthMiddleware(resolver CredentialResolver, registrar PrincipalRegistrar, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http_auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := ExtractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logger.Debug("auth failure", "reason", errMsg, "remote_addr", r.RemoteAddr)
				writeUnauthenticated(w)
				return
			}

			p, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeUnauthenticated(w)
				return
			}

			if registrar != nil {
				if err := registrar.RegisterPrincipal(r.Context(), p); err != nil {
					logger.Error("registering principal", "principal_id", p.ID, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="quotagate"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthenticated"}` + "\n"))
}
