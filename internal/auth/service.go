package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/bher20/erateestimator/internal/storage"
)

// Roles known to the policy.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnknownRole  = errors.New("unknown role")
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

// Principal is the authenticated caller of a request.
type Principal struct {
	TokenID string
	Name    string
	Role    string
}

// Service validates bearer tokens and enforces the role policy.
type Service struct {
	storage   storage.Storage
	enforcer  *casbin.Enforcer
	adminHash []byte
	log       zerolog.Logger
}

// NewService builds the enforcer with the fixed role policy. adminHash is an
// optional bcrypt hash of a bootstrap admin token that works without any
// stored tokens.
func NewService(s storage.Storage, adminHash string, log zerolog.Logger) (*Service, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	policies := [][]string{
		// Admin can do everything
		{RoleAdmin, "*", "*"},
		// Operator can reload rates and change the schedule
		{RoleOperator, "rates", "read"},
		{RoleOperator, "rates", "write"},
		{RoleOperator, "settings", "read"},
		{RoleOperator, "settings", "write"},
		// Viewer can only read
		{RoleViewer, "rates", "read"},
		{RoleViewer, "settings", "read"},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("add policy %v: %w", p, err)
		}
	}

	if adminHash != "" {
		if _, err := bcrypt.Cost([]byte(adminHash)); err != nil {
			return nil, fmt.Errorf("admin token hash: %w", err)
		}
	}

	return &Service{
		storage:   s,
		enforcer:  e,
		adminHash: []byte(adminHash),
		log:       log.With().Str("component", "auth").Logger(),
	}, nil
}

// ValidRole reports whether role appears in the policy.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// HashToken returns the stored form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashAdminToken returns the bcrypt hash to configure as the bootstrap
// admin token.
func HashAdminToken(raw string) (string, error) {
	if len(raw) < 16 {
		return "", errors.New("admin token must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CreateToken stores a new token for role and returns it with the raw
// value, which is not recoverable afterwards.
func (s *Service) CreateToken(ctx context.Context, name, role string, expiresAt *time.Time) (*storage.APIToken, string, error) {
	if !ValidRole(role) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", errors.New("token name is required")
	}

	raw := "ere_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	t := storage.APIToken{
		ID:        uuid.NewString(),
		Name:      name,
		TokenHash: HashToken(raw),
		Role:      role,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.storage.CreateAPIToken(ctx, t); err != nil {
		return nil, "", err
	}
	s.log.Info().Str("token_id", t.ID).Str("name", name).Str("role", role).Msg("api token created")
	return &t, raw, nil
}

// RevokeToken deletes a stored token.
func (s *Service) RevokeToken(ctx context.Context, id string) error {
	return s.storage.DeleteAPIToken(ctx, id)
}

// ListTokens returns every stored token.
func (s *Service) ListTokens(ctx context.Context) ([]storage.APIToken, error) {
	return s.storage.ListAPITokens(ctx)
}

// Authenticate resolves a raw bearer token to a principal.
func (s *Service) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	t, err := s.storage.GetAPITokenByHash(ctx, HashToken(raw))
	if err != nil {
		return nil, err
	}
	if t != nil {
		if t.Expired(time.Now()) {
			return nil, ErrTokenExpired
		}
		if err := s.storage.TouchAPIToken(ctx, t.ID, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("token_id", t.ID).Msg("update token last use")
		}
		return &Principal{TokenID: t.ID, Name: t.Name, Role: t.Role}, nil
	}

	if len(s.adminHash) > 0 && bcrypt.CompareHashAndPassword(s.adminHash, []byte(raw)) == nil {
		return &Principal{Name: "bootstrap", Role: RoleAdmin}, nil
	}
	return nil, ErrInvalidToken
}

// Enforce reports whether role may perform act on obj.
func (s *Service) Enforce(role, obj, act string) (bool, error) {
	return s.enforcer.Enforce(role, obj, act)
}
