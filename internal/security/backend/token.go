package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims are the claims gridsec issues and accepts on bearer tokens.
type tokenClaims struct {
	jwt.RegisteredClaims

	// Roles lists the role names granted to the token holder.
	Roles []string `json:"roles,omitempty"`
}

// TokenValidator validates HMAC-signed bearer tokens presented by
// client-class connections.
type TokenValidator struct {
	secret []byte
	issuer string
}

// NewTokenValidator creates a validator for tokens signed with the given
// secret. An empty issuer disables issuer checking.
func NewTokenValidator(secret []byte, issuer string) (*TokenValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("token validator requires a signing secret")
	}
	return &TokenValidator{secret: secret, issuer: issuer}, nil
}

// Validate parses and verifies a bearer token, returning the login (subject
// claim) and granted roles.
func (v *TokenValidator) Validate(token string) (login string, roles []string, err error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("parse bearer token: %w", err)
	}
	if !parsed.Valid {
		return "", nil, errors.New("bearer token is not valid")
	}
	if claims.Subject == "" {
		return "", nil, errors.New("bearer token has no subject claim")
	}

	return claims.Subject, claims.Roles, nil
}

// SignToken issues a token the validator accepts. Used by the CLI and tests.
func SignToken(secret []byte, issuer, login string, roles []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is required")
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   login,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
