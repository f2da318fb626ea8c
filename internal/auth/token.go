package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "gatehouse"

// OrgClaim is one accessible organization embedded in a token.
type OrgClaim struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Role string `json:"role"`
}

// ImpersonatorClaim attributes an impersonation token to the real actor.
type ImpersonatorClaim struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
}

// Claims is the token payload: the effective identity, its tenant context and
// every organization it can switch into. A token is a bearer credential, but
// verification alone is never sufficient: the resolver pairs every verify
// with a live session check so revocation beats token expiry.
type Claims struct {
	SessionID    string             `json:"sid"`
	Email        string             `json:"email"`
	OrgSlug      string             `json:"org,omitempty"`
	OrgID        string             `json:"orgId,omitempty"`
	Role         string             `json:"role,omitempty"`
	Orgs         []OrgClaim         `json:"orgs,omitempty"`
	Impersonator *ImpersonatorClaim `json:"impersonator,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies compact bearer tokens with a symmetric key.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	return &TokenIssuer{secret: []byte(secret), now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (ti *TokenIssuer) WithClock(fn func() time.Time) *TokenIssuer {
	if fn != nil {
		ti.now = fn
	}
	return ti
}

// Issue signs claims for subject with the given lifetime. Registered claims
// are filled in here; callers only provide identity fields.
func (ti *TokenIssuer) Issue(subject string, claims Claims, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: token subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: token ttl must be positive")
	}
	now := ti.now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify parses and validates a token. Any failure (bad signature, wrong
// algorithm, expiry, malformed payload) surfaces as ErrInvalidToken without
// further detail.
func (ti *TokenIssuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.now), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IsImpersonationToken reports whether the claims carry an impersonator
// block. Downstream writes performed under such a token should be flagged as
// impersonated.
func IsImpersonationToken(claims *Claims) bool {
	return claims != nil && claims.Impersonator != nil && claims.Impersonator.UserID != ""
}
