// Package auth: password hashing and password policy.
//
// WHY BCRYPT?
// bcrypt is deliberately slow. It salts every hash, embeds the salt and the
// cost in the output string, and lets us raise the work factor over time.
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version
package auth

import (
	"errors"
	"fmt"
	"sync"
	"unicode"

	"github.com/sakif/identity-auth/internal/apperror"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used in production.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200–300ms on your production hardware.
// Too low → easy to crack. Too high → login is sluggish under load.
const DefaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer inputs are silently
// truncated by bcrypt, so we reject them up front.
const maxPasswordBytes = 72

// MinPasswordLength is the shortest password the policy accepts.
const MinPasswordLength = 6

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing, verification and the password policy.
//
// It's a struct (not free functions) so that the cost can be injected:
// tests use cost 4 to keep hashing fast.
type PasswordService struct {
	cost      int
	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the given bcrypt cost.
// A cost outside bcrypt's accepted range falls back to DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with a low cost (use 4).
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Validate checks plaintext against the password policy and returns every
// rule it breaks, one message per rule, as a validation error.
//
// POLICY:
//   - at least 6 characters, at most 72 bytes
//   - at least one digit, one lowercase letter, one uppercase letter
//   - at least one character that is neither a letter nor a digit
func (p *PasswordService) Validate(plaintext string) error {
	var (
		hasDigit, hasLower, hasUpper, hasSymbol bool
		length                                  int
	)
	for _, r := range plaintext {
		length++
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSymbol = true
		}
	}

	var msgs []string
	if length < MinPasswordLength {
		msgs = append(msgs, fmt.Sprintf("Passwords must be at least %d characters.", MinPasswordLength))
	}
	if len(plaintext) > maxPasswordBytes {
		msgs = append(msgs, fmt.Sprintf("Passwords must be %d bytes or fewer.", maxPasswordBytes))
	}
	if !hasSymbol {
		msgs = append(msgs, "Passwords must have at least one non alphanumeric character.")
	}
	if !hasDigit {
		msgs = append(msgs, "Passwords must have at least one digit ('0'-'9').")
	}
	if !hasLower {
		msgs = append(msgs, "Passwords must have at least one lowercase ('a'-'z').")
	}
	if !hasUpper {
		msgs = append(msgs, "Passwords must have at least one uppercase ('A'-'Z').")
	}

	if len(msgs) > 0 {
		return apperror.ValidationFailures(msgs...)
	}
	return nil
}

// Hash hashes the given plaintext password with bcrypt.
// Returns an error if the plaintext is longer than 72 bytes.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks whether plaintext matches a stored bcrypt hash.
// Returns nil on a match and ErrPasswordMismatch when it doesn't.
//
// An empty hash (external-only account) never matches, but we still spend a
// bcrypt comparison on it so the response time looks like a real attempt.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		p.VerifyDummy(plaintext)
		return ErrPasswordMismatch
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy burns one bcrypt comparison at the service's cost.
//
// TIMING SAFETY:
// Login for an unknown email would otherwise return in microseconds while a
// known email with a wrong password takes a full bcrypt round. Running a
// comparison against a throwaway hash makes both paths cost the same.
func (p *PasswordService) VerifyDummy(plaintext string) {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), p.cost)
	})
	if p.dummyHash == nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
}
