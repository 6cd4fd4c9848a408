package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const principalContextKey contextKey = "principal"

// FromContext returns the principal attached by Require.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// Check authenticates the request's bearer token and checks it may perform
// act on obj. On failure it returns the HTTP status to answer with.
func (s *Service) Check(r *http.Request, obj, act string) (*Principal, int, error) {
	raw, ok := bearer(r)
	if !ok {
		return nil, http.StatusUnauthorized, errors.New("missing bearer token")
	}

	p, err := s.Authenticate(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
			return nil, http.StatusUnauthorized, err
		}
		s.log.Error().Err(err).Msg("authenticate token")
		return nil, http.StatusInternalServerError, err
	}

	allowed, err := s.Enforce(p.Role, obj, act)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if !allowed {
		s.log.Warn().Str("name", p.Name).Str("role", p.Role).Str("obj", obj).Str("act", act).Msg("permission denied")
		return p, http.StatusForbidden, errors.New("forbidden")
	}
	return p, http.StatusOK, nil
}

// Require wraps next with Check.
func (s *Service) Require(obj, act string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, code, err := s.Check(r, obj, act)
		if err != nil {
			if code == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer realm="erateestimator"`)
			}
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
