// Package session verifies the dashboard bearer tokens issued by the
// external auth service. Tokens are HS256 JWTs whose subject is the owner id.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/scoreforge/scoreforge/internal/apperr"
)

// Verifier resolves a bearer token to the owner it was issued for.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// Option configures a JWTVerifier.
type Option func(*JWTVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) { v.issuer = issuer }
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *JWTVerifier) { v.leeway = d }
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string, opts ...Option) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	v := &JWTVerifier{secret: []byte(secret), leeway: 30 * time.Second}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify returns the token's subject. Any invalid, expired or subject-less
// token is ErrAuthFailure.
func (v *JWTVerifier) Verify(token string) (string, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid session token", apperr.ErrAuthFailure)
	}

	owner := strings.TrimSpace(claims.Subject)
	if owner == "" {
		return "", fmt.Errorf("%w: session token has no subject", apperr.ErrAuthFailure)
	}
	return owner, nil
}

// Sign issues a token for owner. The service never hands these out; it
// exists for local tooling and tests.
func (v *JWTVerifier) Sign(owner string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}
