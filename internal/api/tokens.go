package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bher20/erateestimator/internal/auth"
	"github.com/bher20/erateestimator/internal/storage"
)

// CreateTokenRequest is the body of POST /api/v1/tokens.
type CreateTokenRequest struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresIn string `json:"expires_in"`
}

// CreateTokenResponse carries the raw token. It is shown only once.
type CreateTokenResponse struct {
	storage.APIToken
	Token string `json:"token"`
}

func (s *server) handleTokens(w http.ResponseWriter, r *http.Request) int {
	if s.Auth == nil {
		return s.writeError(w, http.StatusNotImplemented, apiError{Error: "auth is not enabled"})
	}
	switch r.Method {
	case http.MethodGet:
		return s.authorize("tokens", "read", s.listTokens)(w, r)
	case http.MethodPost:
		return s.authorize("tokens", "write", s.createToken)(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		return s.writeError(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	}
}

func (s *server) listTokens(w http.ResponseWriter, r *http.Request) int {
	toks, err := s.Auth.ListTokens(r.Context())
	if err != nil {
		return s.fail(w, err)
	}
	return s.writeJSON(w, http.StatusOK, toks)
}

func (s *server) createToken(w http.ResponseWriter, r *http.Request) int {
	var req CreateTokenRequest
	if err := decodeBody(r, &req); err != nil {
		return s.badRequest(w, err.Error())
	}
	expires, err := auth.ParseExpiry(req.ExpiresIn, time.Now().UTC())
	if err != nil {
		return s.badRequest(w, err.Error())
	}
	tok, raw, err := s.Auth.CreateToken(r.Context(), req.Name, req.Role, expires)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownRole) || strings.TrimSpace(req.Name) == "" {
			return s.badRequest(w, err.Error())
		}
		return s.fail(w, err)
	}
	return s.writeJSON(w, http.StatusCreated, CreateTokenResponse{APIToken: *tok, Token: raw})
}

func (s *server) handleRevokeToken(w http.ResponseWriter, r *http.Request) int {
	if s.Auth == nil {
		return s.writeError(w, http.StatusNotImplemented, apiError{Error: "auth is not enabled"})
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tokens/")
	if id == "" || strings.Contains(id, "/") {
		return s.badRequest(w, "token id is required")
	}
	if err := s.Auth.RevokeToken(r.Context(), id); err != nil {
		return s.fail(w, err)
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent
}
