package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sakif/identity-auth/internal/auth"
	"github.com/sakif/identity-auth/internal/service"
)

// externalLoginCookie carries the OAuth state, provider and return URL
// between the redirect to the provider and the callback.
const externalLoginCookie = "identity_external"

// externalLoginTTL bounds how long the user may sit on the consent screen.
const externalLoginTTL = 10 * time.Minute

// CookieOptions are the deployment-dependent cookie attributes.
type CookieOptions struct {
	// Secure restricts cookies to HTTPS. Turn it on behind TLS.
	Secure bool
}

// setSession writes the session cookie.
//
// COOKIE LIFETIME:
// A remember-me session gets Max-Age and survives a browser restart. A
// normal session has no Max-Age, so the browser drops it on close; the JWT's
// own expiry still bounds it server-side.
//
// HttpOnly keeps JavaScript away from the token. SameSite=Lax sends it on
// top-level navigations (including the redirect back from Google) but not
// on cross-site POSTs.
func (o CookieOptions) setSession(w http.ResponseWriter, s *service.Session) {
	c := &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    s.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.Persistent {
		c.MaxAge = int(s.MaxAge.Seconds())
	}
	http.SetCookie(w, c)
}

func (o CookieOptions) clearSession(w http.ResponseWriter) {
	o.clear(w, auth.SessionCookieName)
}

func (o CookieOptions) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// externalLogin is the pending external sign-in kept in a cookie.
type externalLogin struct {
	State     string
	Provider  string
	ReturnURL string
}

func (o CookieOptions) setExternalLogin(w http.ResponseWriter, p externalLogin) {
	v := url.Values{}
	v.Set("state", p.State)
	v.Set("provider", p.Provider)
	v.Set("returnUrl", p.ReturnURL)

	http.SetCookie(w, &http.Cookie{
		Name:     externalLoginCookie,
		Value:    v.Encode(),
		Path:     "/",
		MaxAge:   int(externalLoginTTL.Seconds()),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// readExternalLogin returns the pending external sign-in, or ok=false when
// the cookie is missing or unreadable.
func readExternalLogin(r *http.Request) (externalLogin, bool) {
	c, err := r.Cookie(externalLoginCookie)
	if err != nil || c.Value == "" {
		return externalLogin{}, false
	}
	v, err := url.ParseQuery(c.Value)
	if err != nil || v.Get("state") == "" {
		return externalLogin{}, false
	}
	return externalLogin{
		State:     v.Get("state"),
		Provider:  v.Get("provider"),
		ReturnURL: v.Get("returnUrl"),
	}, true
}

// LandingPath is where successful sign-ins go by default.
const LandingPath = "/Home/Index"

// safeReturnURL returns u when it is a local path, LandingPath otherwise.
// "//evil.example" and "/\evil.example" are protocol-relative to browsers
// and rejected. Browsers also drop tabs and newlines from URLs, so "/\t/evil"
// would turn into "//evil": any control character rejects the URL.
func safeReturnURL(u string) string {
	if u == "" || !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return LandingPath
	}
	if strings.IndexFunc(u, unicode.IsControl) >= 0 {
		return LandingPath
	}
	return u
}
