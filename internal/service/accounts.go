// Package service holds the account flows: registration, password sign-in,
// external sign-in, email confirmation and the recurring notifier.
//
// LAYERING:
//
//	AccountHandler (HTTP) → AccountService (flows) → AccountManager → AccountRepository (DB)
//	                                              ↘ TokenService (session JWT)
//	                                              ↘ mail.Sender, Notifier → Scheduler
//
// Nothing in this package knows about HTTP: it never reads requests or sets
// cookies. Flows return a *Session and the handler turns it into a cookie.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/auth"
	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/repository"
)

// InvalidLoginMessage is the only thing a failed password sign-in ever says.
const InvalidLoginMessage = "Invalid login attempt"

// ErrInvalidConfirmation means the confirmation token did not verify for the
// account: wrong account, expired, tampered, or already used.
var ErrInvalidConfirmation = errors.New("service: invalid or expired confirmation token")

// AccountManager is the credential store: the one adapter over the
// repository, the password hasher and the confirmation token issuer that
// every flow goes through.
type AccountManager struct {
	repo          repository.AccountRepository
	passwords     *auth.PasswordService
	confirmations *auth.ConfirmationTokens
	logger        *slog.Logger
}

// NewAccountManager wires an AccountManager.
func NewAccountManager(
	repo repository.AccountRepository,
	passwords *auth.PasswordService,
	confirmations *auth.ConfirmationTokens,
	logger *slog.Logger,
) *AccountManager {
	return &AccountManager{
		repo:          repo,
		passwords:     passwords,
		confirmations: confirmations,
		logger:        logger,
	}
}

// NormalizeEmail trims and lowercases an address. Every email is normalized
// before it touches the store, so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a password account. The password must satisfy the policy;
// every rule it breaks comes back as its own validation message. A taken
// email is also a validation error, never a second account.
func (m *AccountManager) Create(ctx context.Context, email, password string) (*model.Account, error) {
	if err := m.passwords.Validate(password); err != nil {
		return nil, err
	}

	hash, err := m.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/accounts: hashing password: %w", err)
	}

	return m.insert(ctx, &model.Account{
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
	})
}

// CreateExternal creates an account with no password for an email a provider
// has verified. The email is marked confirmed straight away.
func (m *AccountManager) CreateExternal(ctx context.Context, email string) (*model.Account, error) {
	return m.insert(ctx, &model.Account{
		Email:          NormalizeEmail(email),
		EmailConfirmed: true,
	})
}

func (m *AccountManager) insert(ctx context.Context, account *model.Account) (*model.Account, error) {
	if account.Email == "" {
		return nil, apperror.ValidationFailed("email", "The Email field is required.")
	}
	account.SecurityStamp = newSecurityStamp()

	if err := m.repo.Create(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ValidationFailed("email", fmt.Sprintf("Email '%s' is already taken.", account.Email))
		}
		return nil, fmt.Errorf("service/accounts: creating account: %w", err)
	}

	m.logger.Info("account created",
		slog.String("accountID", account.ID),
		slog.Bool("hasPassword", account.HasPassword()),
	)
	return account, nil
}

// FindByID returns the account or an error wrapping apperror.ErrNotFound.
func (m *AccountManager) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return m.repo.GetByID(ctx, id)
}

// FindByEmail looks an account up by (normalized) email.
func (m *AccountManager) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return m.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// FindByLogin returns the account linked to (provider, key).
func (m *AccountManager) FindByLogin(ctx context.Context, provider, providerKey string) (*model.Account, error) {
	return m.repo.GetByLogin(ctx, provider, providerKey)
}

// AddExternalLogin links a provider identity to an account. Linking the same
// identity to the same account again is a no-op.
func (m *AccountManager) AddExternalLogin(ctx context.Context, accountID string, identity *auth.ExternalIdentity) error {
	err := m.repo.AddLogin(ctx, &model.ExternalLogin{
		Provider:    identity.Provider,
		ProviderKey: identity.ProviderKey,
		AccountID:   accountID,
	})
	if err != nil {
		return fmt.Errorf("service/accounts: linking %s login: %w", identity.Provider, err)
	}
	return nil
}

// CheckPassword returns the account when email and password match.
//
// Every failure (unknown email, no password on the account, wrong password)
// is the same apperror.Unauthorized(InvalidLoginMessage). Unknown emails still
// pay for one bcrypt comparison so response time gives nothing away.
func (m *AccountManager) CheckPassword(ctx context.Context, email, password string) (*model.Account, error) {
	account, err := m.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			m.passwords.VerifyDummy(password)
			return nil, apperror.Unauthorized(InvalidLoginMessage)
		}
		return nil, fmt.Errorf("service/accounts: looking up account: %w", err)
	}

	if err := m.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(InvalidLoginMessage)
		}
		return nil, fmt.Errorf("service/accounts: verifying password: %w", err)
	}
	return account, nil
}

// GenerateEmailConfirmationToken issues a token bound to the account and its
// current security stamp.
func (m *AccountManager) GenerateEmailConfirmationToken(account *model.Account) (string, error) {
	return m.confirmations.Generate(account.ID, account.SecurityStamp)
}

// ConfirmEmail validates token for accountID and marks the email confirmed.
//
// Returns apperror.ErrNotFound for an unknown account and
// ErrInvalidConfirmation for a token that does not verify, is stale, or lost
// a race with a concurrent confirmation. In both failure cases the account is
// left exactly as it was.
func (m *AccountManager) ConfirmEmail(ctx context.Context, accountID, token string) error {
	account, err := m.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	stamp, err := m.confirmations.Validate(token, account.ID)
	if err != nil {
		m.logger.Debug("confirmation token rejected", slog.String("accountID", accountID), slog.String("error", err.Error()))
		return ErrInvalidConfirmation
	}
	if stamp != account.SecurityStamp {
		return ErrInvalidConfirmation
	}

	err = m.repo.MarkEmailConfirmed(ctx, account.ID, stamp, newSecurityStamp())
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return ErrInvalidConfirmation
		}
		return fmt.Errorf("service/accounts: confirming email: %w", err)
	}
	return nil
}

func newSecurityStamp() string {
	return xid.New().String()
}
