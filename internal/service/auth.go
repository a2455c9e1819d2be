package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/auth"
	"github.com/sakif/identity-auth/internal/mail"
	"github.com/sakif/identity-auth/internal/metrics"
	"github.com/sakif/identity-auth/internal/model"
)

// passwordMethod labels password sign-ins in metrics; external sign-ins use
// the provider name.
const passwordMethod = "password"

// Options holds the flow settings that come from configuration.
type Options struct {
	// BaseURL is the public origin used to build confirmation links,
	// e.g. "https://id.example.com" (no trailing slash).
	BaseURL string
	// EmailConfirmation sends a confirmation email on registration.
	EmailConfirmation bool
	// SessionTTL bounds a browser-session sign-in.
	SessionTTL time.Duration
	// PersistentSessionTTL is the lifetime of a remember-me sign-in.
	PersistentSessionTTL time.Duration
}

// Session is a successful sign-in, ready to become a cookie.
type Session struct {
	AccountID  string
	Token      string
	Persistent bool
	// MaxAge is the cookie lifetime; only meaningful when Persistent.
	MaxAge time.Duration
}

// NotificationScheduler arms the recurring notification for an account.
// *Notifier implements it.
type NotificationScheduler interface {
	ScheduleFor(ctx context.Context, account *model.Account) error
}

// AccountService runs the account flows.
//
// DEPENDENCIES (injected via NewAccountService):
//   - accounts  *AccountManager        → credential store
//   - tokens    *auth.TokenService     → session JWTs
//   - mailer    mail.Sender            → confirmation emails
//   - notifier  NotificationScheduler  → recurring notification on the landing page
//   - metrics   *metrics.Metrics       → counters (nil is fine)
type AccountService struct {
	accounts *AccountManager
	tokens   *auth.TokenService
	mailer   mail.Sender
	notifier NotificationScheduler
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(
	accounts *AccountManager,
	tokens *auth.TokenService,
	mailer mail.Sender,
	notifier NotificationScheduler,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		tokens:   tokens,
		mailer:   mailer,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		logger:   logger,
	}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// LoginInput is the password sign-in form.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// =========================================================================
// REGISTRATION
// =========================================================================

// Register creates a password account and signs the new user in.
//
// POLICY: non-verified-first. The user is signed in right away; an
// unconfirmed email only keeps the recurring notifier off. When confirmation
// is enabled one confirmation email goes out. If it cannot be sent the
// failure is logged and registration still succeeds.
//
// On any failure the returned error is a validation error whose messages
// (apperror.MessagesOf) list every reason; no account exists afterwards.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := validateRegistration(in); err != nil {
		s.metrics.Registration(false)
		return nil, err
	}

	account, err := s.accounts.Create(ctx, in.Email, in.Password)
	if err != nil {
		s.metrics.Registration(false)
		return nil, err
	}
	s.metrics.Registration(true)

	if s.opts.EmailConfirmation {
		if err := s.sendConfirmation(ctx, account); err != nil {
			s.logger.Error("sending confirmation email failed",
				slog.String("accountID", account.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.issueSession(account.ID, false)
}

func validateRegistration(in RegisterInput) error {
	var msgs []string
	msgs = append(msgs, validateEmail(in.Email)...)
	if in.Password == "" {
		msgs = append(msgs, "The Password field is required.")
	} else if in.Password != in.ConfirmPassword {
		msgs = append(msgs, "The password and confirmation password do not match.")
	}

	if len(msgs) > 0 {
		return apperror.ValidationFailures(msgs...)
	}
	return nil
}

// validateEmail returns the form messages for a bad email field.
func validateEmail(email string) []string {
	email = strings.TrimSpace(email)
	if email == "" {
		return []string{"The Email field is required."}
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return []string{"The Email field is not a valid e-mail address."}
	}
	return nil
}

// sendConfirmation emails a link to /Account/ConfirmEmail for account.
func (s *AccountService) sendConfirmation(ctx context.Context, account *model.Account) error {
	token, err := s.accounts.GenerateEmailConfirmationToken(account)
	if err != nil {
		return fmt.Errorf("service/auth: generating confirmation token: %w", err)
	}

	link := ConfirmationLink(s.opts.BaseURL, account.ID, token)
	body := fmt.Sprintf(`Please confirm your account by <a href="%s">clicking here</a>.`, link)

	err = s.mailer.Send(ctx, account.Email, "Confirm your email", body, true)
	s.metrics.EmailSent("confirmation", err == nil)
	if err != nil {
		return fmt.Errorf("service/auth: sending confirmation email: %w", err)
	}

	s.logger.Info("confirmation email sent", slog.String("accountID", account.ID))
	return nil
}

// ConfirmationLink builds BASE_URL/Account/ConfirmEmail?userId=..&token=..
func ConfirmationLink(baseURL, accountID, token string) string {
	q := url.Values{}
	q.Set("userId", accountID)
	q.Set("token", token)
	return baseURL + "/Account/ConfirmEmail?" + q.Encode()
}

// =========================================================================
// PASSWORD SIGN-IN
// =========================================================================

// PasswordSignIn checks the credentials and issues a session scoped by
// RememberMe.
//
// Missing fields are a validation error. Everything else that goes wrong
// with the credentials is apperror.Unauthorized(InvalidLoginMessage), so the
// caller cannot tell an unknown email from a wrong password.
func (s *AccountService) PasswordSignIn(ctx context.Context, in LoginInput) (*Session, error) {
	var msgs []string
	if strings.TrimSpace(in.Email) == "" {
		msgs = append(msgs, "The Email field is required.")
	}
	if in.Password == "" {
		msgs = append(msgs, "The Password field is required.")
	}
	if len(msgs) > 0 {
		return nil, apperror.ValidationFailures(msgs...)
	}

	account, err := s.accounts.CheckPassword(ctx, in.Email, in.Password)
	if err != nil {
		s.metrics.SignIn(passwordMethod, false)
		if errors.Is(err, apperror.ErrUnauthorized) {
			s.logger.Info("password sign-in failed")
		}
		return nil, err
	}

	s.metrics.SignIn(passwordMethod, true)
	s.logger.Info("user signed in",
		slog.String("accountID", account.ID),
		slog.String("method", passwordMethod),
		slog.Bool("persistent", in.RememberMe),
	)
	return s.issueSession(account.ID, in.RememberMe)
}

// =========================================================================
// EXTERNAL SIGN-IN
// =========================================================================

// ExternalLoginCallback signs in with a verified provider identity.
//
//  1. (provider, key) already linked → sign in as that account.
//  2. Otherwise take the email claim, but only if the provider says it is
//     verified. No usable email → apperror.ErrNotFound.
//  3. Find the account with that email, or create a password-less one, link
//     (provider, key) to it and sign in.
//
// Replaying the same callback lands in step 1 and creates nothing.
func (s *AccountService) ExternalLoginCallback(ctx context.Context, identity *auth.ExternalIdentity) (*Session, error) {
	if identity == nil || identity.Provider == "" || identity.ProviderKey == "" {
		return nil, errors.New("service/auth: external identity is incomplete")
	}

	account, err := s.accounts.FindByLogin(ctx, identity.Provider, identity.ProviderKey)
	if err == nil {
		return s.externalSignedIn(account, identity)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		s.metrics.SignIn(identity.Provider, false)
		return nil, fmt.Errorf("service/auth: looking up external login: %w", err)
	}

	email := ""
	if identity.EmailVerified {
		email = NormalizeEmail(identity.Email)
	}
	if email == "" {
		s.metrics.SignIn(identity.Provider, false)
		return nil, apperror.NotFound("email claim", identity.Provider)
	}

	account, err = s.findOrCreateExternal(ctx, email)
	if err != nil {
		s.metrics.SignIn(identity.Provider, false)
		return nil, err
	}

	if err := s.accounts.AddExternalLogin(ctx, account.ID, identity); err != nil {
		s.metrics.SignIn(identity.Provider, false)
		return nil, err
	}
	s.logger.Info("external login linked",
		slog.String("accountID", account.ID),
		slog.String("provider", identity.Provider),
	)

	return s.externalSignedIn(account, identity)
}

// findOrCreateExternal returns the account for email, creating it when
// needed. Losing a creation race to a concurrent request is not an error:
// the winner's account is used.
func (s *AccountService) findOrCreateExternal(ctx context.Context, email string) (*model.Account, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up account by email: %w", err)
	}

	account, err = s.accounts.CreateExternal(ctx, email)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, apperror.ErrValidation) {
		return s.accounts.FindByEmail(ctx, email)
	}
	return nil, err
}

func (s *AccountService) externalSignedIn(account *model.Account, identity *auth.ExternalIdentity) (*Session, error) {
	s.metrics.SignIn(identity.Provider, true)
	s.logger.Info("user signed in",
		slog.String("accountID", account.ID),
		slog.String("method", identity.Provider),
	)
	return s.issueSession(account.ID, false)
}

// =========================================================================
// EMAIL CONFIRMATION
// =========================================================================

// ConfirmEmail marks the account's email confirmed.
//
// Both parameters are required (validation error otherwise). An unknown
// account is apperror.ErrNotFound; a bad, expired or replayed token is
// ErrInvalidConfirmation. Failures leave the account untouched.
func (s *AccountService) ConfirmEmail(ctx context.Context, accountID, token string) error {
	var msgs []string
	if accountID == "" {
		msgs = append(msgs, "The userId parameter is required.")
	}
	if token == "" {
		msgs = append(msgs, "The token parameter is required.")
	}
	if len(msgs) > 0 {
		return apperror.ValidationFailures(msgs...)
	}

	err := s.accounts.ConfirmEmail(ctx, accountID, token)
	switch {
	case err == nil:
		s.metrics.Confirmation(true)
		s.logger.Info("email confirmed", slog.String("accountID", accountID))
		return nil
	case errors.Is(err, ErrInvalidConfirmation):
		s.metrics.Confirmation(false)
		s.logger.Info("email confirmation rejected", slog.String("accountID", accountID))
		return err
	default:
		return err
	}
}

// =========================================================================
// LANDING PAGE
// =========================================================================

// Landing loads the signed-in account for the landing page and, when its
// email is confirmed, (re)arms the recurring notification. A scheduling
// failure is logged; the page still renders.
func (s *AccountService) Landing(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.EmailConfirmed && s.notifier != nil {
		if err := s.notifier.ScheduleFor(ctx, account); err != nil {
			s.logger.Error("scheduling notification failed",
				slog.String("accountID", account.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return account, nil
}

// issueSession signs a session token. Persistent sessions live for
// PersistentSessionTTL, others for SessionTTL.
func (s *AccountService) issueSession(accountID string, persistent bool) (*Session, error) {
	ttl := s.opts.SessionTTL
	if persistent {
		ttl = s.opts.PersistentSessionTTL
	}

	token, err := s.tokens.Generate(accountID, ttl)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing session: %w", err)
	}
	return &Session{
		AccountID:  accountID,
		Token:      token,
		Persistent: persistent,
		MaxAge:     ttl,
	}, nil
}
