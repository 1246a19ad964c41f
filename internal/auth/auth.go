// Package auth authenticates API callers via bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/workflowops/opsgate/internal/config"
)

// Principal identifies an authenticated caller. UserID keys the per-user
// rate bucket and the audit trail.
type Principal struct {
	UserID string
	Admin  bool
}

type principalKey struct{}

// WithPrincipal stores the principal in the request context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken pulls the token out of the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the configured
// tokens. The service API key authenticates as the admin principal.
func Authenticate(presented string, apiKey string, tokens []config.APIToken) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{UserID: "admin", Admin: true}, true
	}
	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{UserID: t.UserID}, true
		}
	}
	return Principal{}, false
}
