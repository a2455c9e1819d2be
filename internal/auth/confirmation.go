package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	confirmationAudience = "email-confirmation"
	confirmationPurpose  = "EmailConfirmation"
)

// DefaultConfirmationTTL is how long a confirmation link stays usable.
const DefaultConfirmationTTL = 24 * time.Hour

// ErrInvalidConfirmationToken is returned for any token that does not verify:
// bad signature, expired, wrong purpose, or issued for another account.
// Callers never need to know which.
var ErrInvalidConfirmationToken = errors.New("auth: invalid confirmation token")

// ConfirmationTokens issues the opaque tokens put into confirmation links.
//
// SINGLE USE WITHOUT A TOKEN TABLE:
// Each token carries the account's security stamp at the time it was issued.
// The confirmation flow compares that stamp against the stored one and then
// rotates the stored stamp in the same UPDATE. After one successful use every
// token issued against the old stamp, including this one, is dead.
type ConfirmationTokens struct {
	secret []byte
	ttl    time.Duration
}

type confirmationClaims struct {
	Purpose string `json:"purpose"`
	Stamp   string `json:"stamp"`
	jwt.RegisteredClaims
}

// NewConfirmationTokens creates a token issuer. ttl <= 0 falls back to
// DefaultConfirmationTTL.
func NewConfirmationTokens(secret string, ttl time.Duration) (*ConfirmationTokens, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: confirmation secret must be at least %d characters", minSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &ConfirmationTokens{secret: []byte(secret), ttl: ttl}, nil
}

// Generate issues a token bound to accountID and the account's current stamp.
func (c *ConfirmationTokens) Generate(accountID, stamp string) (string, error) {
	if accountID == "" || stamp == "" {
		return "", errors.New("auth: confirmation token needs an account id and a security stamp")
	}

	now := time.Now()
	claims := confirmationClaims{
		Purpose: confirmationPurpose,
		Stamp:   stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			Audience:  jwt.ClaimStrings{confirmationAudience},
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing confirmation token: %w", err)
	}
	return signed, nil
}

// Validate verifies token for accountID and returns the security stamp it
// was issued against. The caller still has to compare that stamp with the
// stored one; a token whose stamp no longer matches is as good as expired.
func (c *ConfirmationTokens) Validate(token, accountID string) (string, error) {
	var claims confirmationClaims
	_, err := jwt.ParseWithClaims(token, &claims, keyFunc(c.secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(confirmationAudience),
		jwt.WithSubject(accountID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfirmationToken, err)
	}

	if claims.Purpose != confirmationPurpose || claims.Stamp == "" {
		return "", ErrInvalidConfirmationToken
	}
	return claims.Stamp, nil
}
