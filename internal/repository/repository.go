// Package repository declares the storage interfaces the services depend on.
// Implementations live in sub-packages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/identity-auth/internal/model"
)

// AccountRepository persists accounts and their external logins.
//
// Lookups that find nothing return an error wrapping apperror.ErrNotFound.
// Create returns apperror.ErrConflict when the email is already taken, and
// AddLogin returns it when (provider, key) belongs to a different account.
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	GetByLogin(ctx context.Context, provider, providerKey string) (*model.Account, error)
	AddLogin(ctx context.Context, login *model.ExternalLogin) error
	// MarkEmailConfirmed sets the confirmed flag and replaces the security
	// stamp, but only if the stored stamp still equals expectedStamp.
	MarkEmailConfirmed(ctx context.Context, id, expectedStamp, newStamp string) error
}

// JobRepository persists recurring job definitions keyed by job ID.
type JobRepository interface {
	UpsertJob(ctx context.Context, job *model.RecurringJob) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]model.RecurringJob, error)
}
