package auth

import (
	"context"
	"net/http"
	"net/url"
)

// SessionCookieName is the cookie that carries the session JWT.
const SessionCookieName = "identity_session"

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/Account/Login"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// A plain string key could be read or shadowed by any package that knows the
// string. Only this package can build a contextKey, so only this package can
// read or write the account ID stored under it.
type contextKey string

const accountIDKey contextKey = "accountID"

// RequireAuth guards HTML pages.
//
// It reads the session cookie, validates it and stores the account ID in the
// request context. Without a valid session the browser is redirected (303) to
// the login page with ReturnUrl set to the page it asked for, so the user
// lands back there after signing in.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := extractAccountID(r, tokens)
			if err != nil {
				http.Redirect(w, r, LoginPath+"?ReturnUrl="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

// OptionalAuth attaches the account ID when a valid session is present but
// never blocks the request. The login and register pages use it to skip
// straight to the landing page for users who are already signed in.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if accountID, err := extractAccountID(r, tokens); err == nil {
				r = r.WithContext(WithAccountID(r.Context(), accountID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithAccountID returns a copy of ctx carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountIDFromContext returns the signed-in account's ID.
// Returns ("", false) for anonymous requests.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

func extractAccountID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
