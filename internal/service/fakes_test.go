package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/auth"
	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/scheduler"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeAccountRepo is an in-memory repository.AccountRepository that keeps
// the same invariants as the SQLite one: unique email, unique
// (provider, key), compare-and-swap confirmation.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account // by ID
	logins   map[string]string         // "provider|key" → account ID
	nextID   int

	// set to simulate a database failure
	getByIDErr error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts: make(map[string]*model.Account),
		logins:   make(map[string]string),
	}
}

func (f *fakeAccountRepo) Create(_ context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.Email == a.Email {
			return apperror.Conflict("account", a.Email)
		}
	}
	f.nextID++
	a.ID = fmt.Sprintf("acct-%d", f.nextID)
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	copied := *a
	f.accounts[a.ID] = &copied
	return nil
}

func (f *fakeAccountRepo) snapshot(a *model.Account) *model.Account {
	copied := *a
	copied.Logins = nil
	for key, id := range f.logins {
		if id == a.ID {
			provider, providerKey, _ := strings.Cut(key, "|")
			copied.Logins = append(copied.Logins, model.ExternalLogin{Provider: provider, ProviderKey: providerKey, AccountID: a.ID})
		}
	}
	return &copied
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id string) (*model.Account, error) {
	if f.getByIDErr != nil {
		return nil, f.getByIDErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	return f.snapshot(a), nil
}

func (f *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			return f.snapshot(a), nil
		}
	}
	return nil, apperror.NotFound("account", email)
}

func (f *fakeAccountRepo) GetByLogin(_ context.Context, provider, key string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.logins[provider+"|"+key]
	if !ok {
		return nil, apperror.NotFound("account", provider+":"+key)
	}
	return f.snapshot(f.accounts[id]), nil
}

func (f *fakeAccountRepo) AddLogin(_ context.Context, l *model.ExternalLogin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := l.Provider + "|" + l.ProviderKey
	if owner, ok := f.logins[key]; ok {
		if owner != l.AccountID {
			return apperror.Conflict("external login", key)
		}
		return nil
	}
	f.logins[key] = l.AccountID
	return nil
}

func (f *fakeAccountRepo) MarkEmailConfirmed(_ context.Context, id, expected, next string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return apperror.NotFound("account", id)
	}
	if a.SecurityStamp != expected {
		return apperror.Conflict("security stamp", id)
	}
	a.EmailConfirmed = true
	a.SecurityStamp = next
	return nil
}

func (f *fakeAccountRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts)
}

func (f *fakeAccountRepo) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins)
}

// sentMail is one captured email.
type sentMail struct {
	To, Subject, Body string
	HTML              bool
}

// fakeMailer records every email; set err to make Send fail.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string, isHTML bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body, HTML: isHTML})
	return nil
}

// scheduledJob is one ScheduleRecurring call.
type scheduledJob struct {
	ID   string
	Job  scheduler.Job
	Cron string
}

// fakeScheduler keeps the latest definition per job ID.
type fakeScheduler struct {
	jobs  map[string]scheduledJob
	calls int
	err   error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]scheduledJob)}
}

func (s *fakeScheduler) ScheduleRecurring(_ context.Context, id string, job scheduler.Job, cronExpr string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.jobs[id] = scheduledJob{ID: id, Job: job, Cron: cronExpr}
	return nil
}

const testSecret = "test-secret-at-least-16-chars!!"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAccountManager(t *testing.T, repo *fakeAccountRepo) *AccountManager {
	t.Helper()
	ct, err := auth.NewConfirmationTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewConfirmationTokens: %v", err)
	}
	return NewAccountManager(repo, auth.NewPasswordServiceForTest(4), ct, discardLogger())
}

// testEnv bundles an AccountService with its fakes.
type testEnv struct {
	repo      *fakeAccountRepo
	mailer    *fakeMailer
	scheduler *fakeScheduler
	manager   *AccountManager
	tokens    *auth.TokenService
	notifier  *Notifier
	svc       *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      newFakeAccountRepo(),
		mailer:    &fakeMailer{},
		scheduler: newFakeScheduler(),
	}
	env.manager = newTestAccountManager(t, env.repo)

	ts, err := auth.NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	env.tokens = ts

	env.notifier = NewNotifier(env.manager, env.mailer, env.scheduler, "@daily", nil, discardLogger())
	env.svc = NewAccountService(env.manager, ts, env.mailer, env.notifier, nil, Options{
		BaseURL:              "http://localhost:8080",
		EmailConfirmation:    true,
		SessionTTL:           time.Hour,
		PersistentSessionTTL: 14 * 24 * time.Hour,
	}, discardLogger())
	return env
}

var errBoom = errors.New("boom")
