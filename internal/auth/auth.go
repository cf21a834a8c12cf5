package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer          = "trullo"
	defaultTokenTTL = 24 * time.Hour
)

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("auth: jwt secret is not configured")
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Role is the coarse privilege level carried in the identity token.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Roles lists every role in display order.
var Roles = []Role{RoleUser, RoleAdmin}

// ParseRole normalises s into a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Identity is the authenticated caller of a single request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity carries the ADMIN role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Claims represents the JWT payload issued by Tokens.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into an Identity. Unknown roles degrade to USER.
func (c *Claims) Identity() *Identity {
	if c == nil || strings.TrimSpace(c.UserID) == "" {
		return nil
	}
	role, ok := ParseRole(c.Role)
	if !ok {
		role = RoleUser
	}
	return &Identity{UserID: c.UserID, Role: role}
}

// Tokens signs and verifies identity tokens with a shared HS256 secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures Tokens behavior.
type TokenOption func(*Tokens)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokens constructs Tokens. An empty secret is a configuration error.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	t := &Tokens{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL returns the configured token lifetime.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for the identity.
func (t *Tokens) Issue(id Identity) (string, time.Time, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	role := id.Role
	if role == "" {
		role = RoleUser
	}

	now := t.now().UTC()
	exp := now.Add(t.ttl)
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, issuer, expiry and the userId claim.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve returns the identity carried by raw, or nil when the token is
// absent, malformed, expired, badly signed or missing the identity claim.
func (t *Tokens) Resolve(raw string) *Identity {
	claims, err := t.Parse(raw)
	if err != nil {
		return nil
	}
	return claims.Identity()
}
