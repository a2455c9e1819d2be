package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/repository"
)

// compile-time check that *DB implements repository.AccountRepository
var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, email, password_hash, email_confirmed, security_stamp, created_at, updated_at`

// Create inserts a new account.
//
// The ID (xid) and timestamps are generated here and written back into the
// caller's struct. A duplicate email surfaces as apperror.ErrConflict; the
// UNIQUE constraint is the only thing standing between two concurrent
// registrations, so we never pre-check with a SELECT.
func (db *DB) Create(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC()
	account.ID = xid.New().String()
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.SecurityStamp == "" {
		account.SecurityStamp = xid.New().String()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.EmailConfirmed,
		account.SecurityStamp,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Email)
		}
		return fmt.Errorf("sqlite: creating account: %w", err)
	}

	return nil
}

// GetByID retrieves an account (with its external logins) by internal ID.
// Returns apperror.ErrNotFound if no account exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return db.scanAccount(ctx, row, id)
}

// GetByEmail retrieves an account by its (already normalized) email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return db.scanAccount(ctx, row, email)
}

// GetByLogin retrieves the account linked to an external provider identity.
func (db *DB) GetByLogin(ctx context.Context, provider, providerKey string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT a.id, a.email, a.password_hash, a.email_confirmed, a.security_stamp, a.created_at, a.updated_at
		 FROM accounts a
		 JOIN external_logins l ON l.account_id = a.id
		 WHERE l.provider = ? AND l.provider_key = ?`,
		provider, providerKey)
	return db.scanAccount(ctx, row, provider+":"+providerKey)
}

// AddLogin links (provider, provider_key) to an account.
//
// IDEMPOTENCE:
// Replaying an OAuth callback must not create duplicate links. The primary key
// on (provider, provider_key) guarantees that; ON CONFLICT DO NOTHING turns
// the replay into a no-op. If nothing was inserted we look at who owns the
// pair: the same account is fine, a different account is a conflict.
func (db *DB) AddLogin(ctx context.Context, login *model.ExternalLogin) error {
	if login.CreatedAt.IsZero() {
		login.CreatedAt = time.Now().UTC()
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO external_logins (provider, provider_key, account_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, provider_key) DO NOTHING`,
		login.Provider,
		login.ProviderKey,
		login.AccountID,
		login.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding login %s for account %s: %w", login.Provider, login.AccountID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	var owner string
	err = db.conn.QueryRowContext(ctx,
		`SELECT account_id FROM external_logins WHERE provider = ? AND provider_key = ?`,
		login.Provider, login.ProviderKey,
	).Scan(&owner)
	if err != nil {
		return fmt.Errorf("sqlite: reading login owner: %w", err)
	}
	if owner != login.AccountID {
		return apperror.Conflict("external login", login.Provider+":"+login.ProviderKey)
	}

	return nil
}

// MarkEmailConfirmed flips email_confirmed and rotates the security stamp in
// a single compare-and-swap UPDATE.
//
// The WHERE clause includes the expected stamp, so two requests racing with
// the same token cannot both succeed: the first one changes the stamp and the
// second one matches zero rows.
//
// Returns apperror.ErrNotFound if the account is gone, apperror.ErrConflict if
// the stamp has already moved on.
func (db *DB) MarkEmailConfirmed(ctx context.Context, id, expectedStamp, newStamp string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE accounts
		 SET email_confirmed = 1, security_stamp = ?, updated_at = ?
		 WHERE id = ? AND security_stamp = ?`,
		newStamp,
		time.Now().UTC(),
		id,
		expectedStamp,
	)
	if err != nil {
		return fmt.Errorf("sqlite: confirming email for account %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	if _, err := db.GetByID(ctx, id); err != nil {
		return err
	}
	return apperror.Conflict("security stamp", id)
}

// scanAccount reads one account row and then loads its external logins.
// key is only used to build the NotFound message.
func (db *DB) scanAccount(ctx context.Context, row *sql.Row, key string) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.EmailConfirmed,
		&a.SecurityStamp,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", key)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", key, err)
	}

	logins, err := db.loginsFor(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Logins = logins

	return &a, nil
}

func (db *DB) loginsFor(ctx context.Context, accountID string) ([]model.ExternalLogin, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT provider, provider_key, account_id, created_at
		 FROM external_logins
		 WHERE account_id = ?
		 ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing logins for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var logins []model.ExternalLogin
	for rows.Next() {
		var l model.ExternalLogin
		if err := rows.Scan(&l.Provider, &l.ProviderKey, &l.AccountID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning login row: %w", err)
		}
		logins = append(logins, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating logins: %w", err)
	}

	return logins, nil
}
