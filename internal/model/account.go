// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Account represents a registered identity.
//
// The email doubles as the username. It is stored lowercased so the UNIQUE
// constraint on the email column catches "Bob@x.io" vs "bob@x.io".
//
// WHY PasswordHash MAY BE EMPTY:
// Accounts created through an external provider (Google) never set a password.
// An empty hash can never match any password, so password login simply fails
// for them with the same generic message as a wrong password.
//
// SECURITY STAMP:
// A random value that changes whenever something security-relevant happens to
// the account (currently: email confirmation). Confirmation tokens embed the
// stamp they were issued against, so rotating it invalidates every outstanding
// token at once. That is what makes a confirmation link single-use.
type Account struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	PasswordHash   string          `json:"-"`
	EmailConfirmed bool            `json:"emailConfirmed"`
	SecurityStamp  string          `json:"-"`
	Logins         []ExternalLogin `json:"logins,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// ExternalLogin links a provider-issued identity to an account.
// (Provider, ProviderKey) is unique across all accounts.
type ExternalLogin struct {
	Provider    string    `json:"provider"`    // e.g. "Google"
	ProviderKey string    `json:"providerKey"` // the provider's stable subject id
	AccountID   string    `json:"accountId"`
	CreatedAt   time.Time `json:"createdAt"`
}
