// Package auth issues and verifies the session tokens carried by operators
// and tenant users.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSessionTTL = 12 * time.Hour

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// RoleSuperAdmin marks platform operators allowed to use the Super Admin
// console, including impersonation.
const RoleSuperAdmin = "superadmin"

// Claims are the JWT claims carried by a session token. The registered ID
// claim (jti) doubles as the session identifier referenced by impersonation
// tokens.
type Claims struct {
	OrganizationID string   `json:"org,omitempty"`
	Roles          []string `json:"roles"`
	jwt.RegisteredClaims
}

// SessionID returns the identifier of the session this token represents.
func (c *Claims) SessionID() string {
	return c.ID
}

// Sessions signs and verifies session tokens with HS256.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) SessionsOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessions constructs a session manager around the signing secret.
func NewSessions(secret string, opts ...SessionsOption) (*Sessions, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	s := &Sessions{
		secret: []byte(secret),
		issuer: "changeops",
		ttl:    defaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a session token for the given user.
func (s *Sessions) Issue(userID, organizationID string, roles []string) (string, *Claims, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil, errors.New("auth: userID is required")
	}

	now := s.now().UTC()
	claims := &Claims{
		OrganizationID: strings.TrimSpace(organizationID),
		Roles:          dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks the token signature and required claims.
func (s *Sessions) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

type sessionContextKey struct{}

// ContextWithSession attaches verified session claims to the context.
func ContextWithSession(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

// SessionFromContext extracts the session claims attached by the authn
// middleware.
func SessionFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// HasRole checks whether the context's session carries the given role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	claims, ok := SessionFromContext(ctx)
	if !ok {
		return false
	}
	for _, r := range claims.Roles {
		if r == role {
			return true
		}
	}
	return false
}
