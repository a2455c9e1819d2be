// Package auth provides the credential machinery behind the account flows:
// session tokens, email-confirmation tokens, password hashing and policy,
// the external OAuth provider, and the middleware that guards pages.
//
// SESSION FLOW OVERVIEW:
//  1. A user signs in (password or Google) → the service returns an account ID
//  2. The handler asks TokenService for a signed JWT bound to that ID
//  3. The JWT goes into an HttpOnly cookie
//  4. On later requests RequireAuth reads the cookie, validates the JWT and
//     puts the account ID in the request context
//
// WHY JWT?
// The session is stateless: the signature proves we issued it and the "exp"
// claim bounds its lifetime, so no session table is needed.
//
// WHY AN AUDIENCE CLAIM?
// Confirmation tokens may be signed with the same secret as sessions. Every
// token carries an "aud" naming what it is for, and each validator only
// accepts its own audience, so a confirmation link can never be replayed as a
// session cookie (or the other way round).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer          = "identity-auth"
	sessionAudience = "session"
)

// minSecretLength is the shortest HMAC secret we accept.
const minSecretLength = 16

// TokenService signs and validates session tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: SESSION_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: session secret must be at least %d characters", minSecretLength)
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// Generate signs a session token for accountID that expires after ttl.
//
// The cookie lifetime (browser-session vs persistent) is the handler's
// business; the token's own expiry is always bounded by ttl.
func (s *TokenService) Generate(accountID string, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", errors.New("auth: cannot issue a session without an account id")
	}

	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   accountID,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token and returns the account ID.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid and the algorithm is HS256 (no "none", no RS/HS confusion)
//   - Token is not expired, and it has an expiry at all
//   - Issuer is "identity-auth" and audience is "session"
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &c, keyFunc(s.secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: session expired")
		}
		return "", fmt.Errorf("auth: invalid session: %w", err)
	}

	if c.Subject == "" {
		return "", errors.New("auth: session has no subject")
	}
	return c.Subject, nil
}

// keyFunc returns the HMAC secret after checking the token's signing method.
func keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}
