package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/workflowops/opsgate/internal/auth"
	"github.com/workflowops/opsgate/internal/ratelimit"
)

// authMiddleware resolves the bearer token to a principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// rateLimitMiddleware applies the global and per-user fixed windows.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "missing principal")
			return
		}

		if err := s.governor.EnforceScoped(principal.UserID); err != nil {
			var limitErr *ratelimit.LimitExceededError
			if errors.As(err, &limitErr) {
				d := limitErr.Decision
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
				w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
				respondJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error:             "rate limit exceeded",
					RetryAfterSeconds: limitErr.RetryAfterSeconds,
				})
				return
			}
			s.logger.Error("rate limit check failed", "user", principal.UserID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "rate limit check failed")
			return
		}

		next.ServeHTTP(w, r)
	})
}
