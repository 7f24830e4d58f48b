package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/terraconstructs/gridsec/internal/security"
)

// AuthnDependencies bundles collaborators required by the authentication
// middleware.
type AuthnDependencies struct {
	// Security authenticates credentials and activates the resulting
	// context on the request.
	Security *security.Processor

	// Observer receives handshake-completed transitions. Session
	// established/rejected fire inside the processor. Optional.
	Observer security.ConnectionObserver
}

// NewAuthnMiddleware constructs a chi middleware that authenticates each
// request via the security processor and activates the authenticated context
// for downstream handlers. Requests without credentials, and requests whose
// credentials are rejected, get 401; why authentication failed is opaque at
// this layer.
func NewAuthnMiddleware(deps AuthnDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Security == nil {
		return nil, errors.New("authn middleware requires a security processor")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			in, ok := extractCredentials(r)
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			start := time.Now()
			sc, err := deps.Security.Authenticate(ctx, in)
			if err != nil {
				http.Error(w, "authentication failed", http.StatusUnauthorized)
				return
			}
			if deps.Observer != nil {
				deps.Observer.HandshakeCompleted(ctx, time.Since(start))
			}

			ctx = deps.Security.WithContext(ctx, sc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// extractCredentials builds the authentication input from a Bearer token or
// Basic login/secret pair.
func extractCredentials(r *http.Request) (security.AuthenticationInput, bool) {
	in := security.AuthenticationInput{
		Kind:    security.KindClient,
		Address: r.RemoteAddr,
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		in.Token = token
		return in, true
	}

	if login, secret, ok := r.BasicAuth(); ok {
		in.Login = login
		in.Secret = secret
		return in, true
	}

	return security.AuthenticationInput{}, false
}
