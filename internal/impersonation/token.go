// Package impersonation issues and validates the short-lived capability
// tokens that let a platform operator act as a tenant organization.
package impersonation

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// TTL is the fixed validity window. It is a policy constant, not a caller
// input: every minted token expires exactly this long after issuance.
const TTL = 5 * time.Minute

// Mode is the capability scope carried by a token.
type Mode string

const (
	// ModeRead permits viewing tenant data only.
	ModeRead Mode = "read"
	// ModeWrite additionally permits mutations on behalf of the tenant.
	ModeWrite Mode = "write"
)

// ErrInvalidToken is returned for every validation failure. Malformed input,
// bad signature, wrong secret, expired window and shape violations are
// deliberately indistinguishable to the caller.
var ErrInvalidToken = errors.New("impersonation: invalid token")

// TokenPayload is the verified content of an impersonation token.
type TokenPayload struct {
	SessionID      string `json:"sessionId"`
	OrganizationID string `json:"organizationId"`
	Mode           Mode   `json:"mode"`
	IssuedAt       int64  `json:"iat"`
	ExpiresAt      int64  `json:"exp"`
}

// Service mints and verifies impersonation tokens. It is stateless beyond
// the shared secret; validity is purely a function of payload, signature,
// clock and secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service around the shared HMAC secret. The secret
// is opaque key material; callers are responsible for choosing a
// sufficiently long random value.
func NewService(secret string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("impersonation: secret is required")
	}
	s := &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate mints a token for the given operator session and target
// organization. The result is "<payload>.<signature>" with both halves in
// unpadded URL-safe base64.
func (s *Service) Generate(sessionID, organizationID string, mode Mode) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	organizationID = strings.TrimSpace(organizationID)
	if sessionID == "" {
		return "", errors.New("impersonation: sessionID is required")
	}
	if organizationID == "" {
		return "", errors.New("impersonation: organizationID is required")
	}
	if mode != ModeRead && mode != ModeWrite {
		return "", errors.New("impersonation: mode must be read or write")
	}

	now := s.now().Unix()
	payload := TokenPayload{
		SessionID:      sessionID,
		OrganizationID: organizationID,
		Mode:           mode,
		IssuedAt:       now,
		ExpiresAt:      now + int64(TTL/time.Second),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	signature := base64.RawURLEncoding.EncodeToString(s.sign(encoded))
	return encoded + "." + signature, nil
}

// Validate verifies signature, shape and expiry and returns the typed
// payload. Every failure path returns ErrInvalidToken; Validate never
// panics on hostile input.
func (s *Service) Validate(token string) (TokenPayload, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" || strings.Contains(signature, ".") {
		return TokenPayload{}, ErrInvalidToken
	}

	supplied, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	expected := s.sign(encoded)
	// Length mismatch cannot be a valid signature; skip the constant-time
	// comparison entirely rather than feed it unequal-length slices.
	if len(supplied) != len(expected) {
		return TokenPayload{}, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(supplied, expected) != 1 {
		return TokenPayload{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	payload, err := parsePayload(raw)
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	if payload.ExpiresAt < s.now().Unix() {
		return TokenPayload{}, ErrInvalidToken
	}
	// No not-before check on iat: only forward expiry is enforced.
	return payload, nil
}

// parsePayload checks every field individually so a partially-typed payload
// is never accepted.
func parsePayload(raw []byte) (TokenPayload, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	sessionID, ok := fields["sessionId"].(string)
	if !ok || sessionID == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	organizationID, ok := fields["organizationId"].(string)
	if !ok || organizationID == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	modeRaw, ok := fields["mode"].(string)
	if !ok {
		return TokenPayload{}, ErrInvalidToken
	}
	mode := Mode(modeRaw)
	if mode != ModeRead && mode != ModeWrite {
		return TokenPayload{}, ErrInvalidToken
	}
	iat, ok := toInt64(fields["iat"])
	if !ok {
		return TokenPayload{}, ErrInvalidToken
	}
	exp, ok := toInt64(fields["exp"])
	if !ok {
		return TokenPayload{}, ErrInvalidToken
	}
	return TokenPayload{
		SessionID:      sessionID,
		OrganizationID: organizationID,
		Mode:           mode,
		IssuedAt:       iat,
		ExpiresAt:      exp,
	}, nil
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func (s *Service) sign(encodedPayload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return mac.Sum(nil)
}
