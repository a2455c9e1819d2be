package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/rs/xid"
	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/auth"
	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/service"
)

// Messages rendered by the external login and confirmation pages.
const (
	externalLoadErrorMessage  = "Error loading external login information."
	externalRemoteErrorPrefix = "Error from external provider: "
	confirmedMessage          = "Thank you for confirming your email."
	confirmInvalidMessage     = "The confirmation link is invalid or has expired."
)

// AccountFlows is what the account pages need from the service layer.
// *service.AccountService implements it; tests can swap in a fake.
type AccountFlows interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.Session, error)
	PasswordSignIn(ctx context.Context, in service.LoginInput) (*service.Session, error)
	ExternalLoginCallback(ctx context.Context, identity *auth.ExternalIdentity) (*service.Session, error)
	ConfirmEmail(ctx context.Context, accountID, token string) error
	Landing(ctx context.Context, accountID string) (*model.Account, error)
}

// AccountHandler serves /Account/* and /Home/*.
//
// DEPENDENCY CHAIN:
//   - flows     AccountFlows               → registration, sign-in, confirmation
//   - providers map[string]auth.Provider   → external providers by name (may be empty)
//   - views     *Views                     → HTML pages
//   - cookies   CookieOptions              → session cookie attributes
type AccountHandler struct {
	flows     AccountFlows
	providers map[string]auth.Provider
	names     []string
	views     *Views
	cookies   CookieOptions
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler. providers may be empty, in
// which case the external login routes answer 404 and the login page shows
// no provider buttons.
func NewAccountHandler(
	flows AccountFlows,
	providers []auth.Provider,
	views *Views,
	cookies CookieOptions,
	logger *slog.Logger,
) *AccountHandler {
	h := &AccountHandler{
		flows:     flows,
		providers: make(map[string]auth.Provider, len(providers)),
		views:     views,
		cookies:   cookies,
		logger:    logger,
	}
	for _, p := range providers {
		h.providers[p.Name()] = p
		h.names = append(h.names, p.Name())
	}
	sort.Strings(h.names)
	return h
}

// HasProviders reports whether any external provider is configured.
func (h *AccountHandler) HasProviders() bool {
	return len(h.providers) > 0
}

// =========================================================================
// REGISTER
// =========================================================================

// HandleRegisterPage renders the empty registration form.
//
// HTTP: GET /Account/Register
func (h *AccountHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.AccountIDFromContext(r.Context()); ok {
		http.Redirect(w, r, LandingPath, http.StatusSeeOther)
		return
	}
	h.views.render(w, http.StatusOK, pageRegister, pageData{Title: "Register"})
}

// HandleRegister creates the account and signs the user in.
//
// HTTP: POST /Account/Register
//
// Failures re-render the form with every message and the email the user
// typed. Passwords are never echoed back.
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.views.render(w, http.StatusBadRequest, pageRegister, pageData{
			Title:  "Register",
			Errors: []string{"The request could not be read."},
		})
		return
	}

	in := service.RegisterInput{
		Email:           r.PostForm.Get("Email"),
		Password:        r.PostForm.Get("Password"),
		ConfirmPassword: r.PostForm.Get("ConfirmPassword"),
	}

	session, err := h.flows.Register(r.Context(), in)
	if err != nil {
		h.formError(w, r, pageRegister, pageData{Title: "Register", Email: in.Email}, err)
		return
	}

	h.cookies.setSession(w, session)
	http.Redirect(w, r, LandingPath, http.StatusSeeOther)
}

// =========================================================================
// PASSWORD LOGIN
// =========================================================================

// HandleLoginPage renders the login form.
//
// HTTP: GET /Account/Login?ReturnUrl=/somewhere
func (h *AccountHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	returnURL := safeReturnURL(r.URL.Query().Get("ReturnUrl"))
	if _, ok := auth.AccountIDFromContext(r.Context()); ok {
		http.Redirect(w, r, returnURL, http.StatusSeeOther)
		return
	}
	h.views.render(w, http.StatusOK, pageLogin, h.loginData(returnURL))
}

// HandleLogin checks the credentials.
//
// HTTP: POST /Account/Login
//
// Wrong email and wrong password both render the same "Invalid login
// attempt" with 401. The handler never learns which one it was.
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		data := h.loginData(LandingPath)
		data.Errors = []string{"The request could not be read."}
		h.views.render(w, http.StatusBadRequest, pageLogin, data)
		return
	}

	returnURL := safeReturnURL(r.PostForm.Get("ReturnUrl"))
	in := service.LoginInput{
		Email:      r.PostForm.Get("Email"),
		Password:   r.PostForm.Get("Password"),
		RememberMe: r.PostForm.Get("RememberMe") == "true",
	}

	session, err := h.flows.PasswordSignIn(r.Context(), in)
	if err != nil {
		data := h.loginData(returnURL)
		data.Email = in.Email
		data.RememberMe = in.RememberMe
		h.formError(w, r, pageLogin, data, err)
		return
	}

	h.cookies.setSession(w, session)
	http.Redirect(w, r, returnURL, http.StatusSeeOther)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /Account/Logout
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.clearSession(w)
	http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
}

// =========================================================================
// EXTERNAL LOGIN
// =========================================================================

// HandleExternalLogin starts the provider round trip.
//
// HTTP: POST /Account/ExternalLogin  (form: provider, returnUrl)
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived cookie and into the provider URL.
// The callback only proceeds when the two match, which proves this browser
// started the flow.
func (h *AccountHandler) HandleExternalLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	provider, ok := h.providers[r.PostForm.Get("provider")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	state := xid.New().String()
	h.cookies.setExternalLogin(w, externalLogin{
		State:     state,
		Provider:  provider.Name(),
		ReturnURL: safeReturnURL(r.PostForm.Get("returnUrl")),
	})

	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusSeeOther)
}

// HandleExternalLoginCallback finishes the provider round trip.
//
// HTTP: GET /Account/ExternalLoginCallback?code=...&state=...
//
// FLOW:
//  1. The provider reported an error → show it on the login page
//  2. Check the state cookie against ?state (CSRF)
//  3. Exchange the code for a verified identity
//  4. Sign in (find by link, else by verified email, else create)
//  5. Set the session cookie and go back to where the user started
func (h *AccountHandler) HandleExternalLoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pending, havePending := readExternalLogin(r)
	h.cookies.clear(w, externalLoginCookie)

	returnURL := LandingPath
	if havePending {
		returnURL = safeReturnURL(pending.ReturnURL)
	}

	remoteErr := q.Get("remoteError")
	if remoteErr == "" {
		remoteErr = q.Get("error")
	}
	if remoteErr != "" {
		h.logger.Info("external provider returned an error", slog.String("error", remoteErr))
		h.loginFailed(w, http.StatusBadRequest, returnURL, externalRemoteErrorPrefix+remoteErr)
		return
	}

	if !havePending || q.Get("state") != pending.State {
		h.logger.Warn("external login state mismatch")
		h.loginFailed(w, http.StatusBadRequest, returnURL, externalLoadErrorMessage)
		return
	}

	provider, ok := h.providers[pending.Provider]
	if !ok {
		http.NotFound(w, r)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.loginFailed(w, http.StatusBadRequest, returnURL, externalLoadErrorMessage)
		return
	}

	identity, err := provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("external login exchange failed",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()),
		)
		h.loginFailed(w, http.StatusBadRequest, returnURL, externalLoadErrorMessage)
		return
	}

	session, err := h.flows.ExternalLoginCallback(r.Context(), identity)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.views.renderError(w, r, err)
		return
	}

	h.cookies.setSession(w, session)
	http.Redirect(w, r, returnURL, http.StatusSeeOther)
}

// =========================================================================
// EMAIL CONFIRMATION
// =========================================================================

// HandleConfirmEmail consumes a confirmation link.
//
// HTTP: GET /Account/ConfirmEmail?userId=...&token=...
func (h *AccountHandler) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	err := h.flows.ConfirmEmail(r.Context(), q.Get("userId"), q.Get("token"))
	switch {
	case err == nil:
		h.views.message(w, http.StatusOK, "Confirm email", confirmedMessage)
	case errors.Is(err, service.ErrInvalidConfirmation):
		h.views.message(w, http.StatusBadRequest, "Confirm email", confirmInvalidMessage)
	default:
		h.views.renderError(w, r, err)
	}
}

// =========================================================================
// HELPERS
// =========================================================================

func (h *AccountHandler) loginData(returnURL string) pageData {
	return pageData{Title: "Log in", ReturnURL: returnURL, Providers: h.names}
}

func (h *AccountHandler) loginFailed(w http.ResponseWriter, status int, returnURL, msg string) {
	data := h.loginData(returnURL)
	data.Errors = []string{msg}
	h.views.render(w, status, pageLogin, data)
}

// formError re-renders a form page for user-facing errors and falls back to
// the error page for everything else.
func (h *AccountHandler) formError(w http.ResponseWriter, r *http.Request, page string, data pageData, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.views.renderError(w, r, err)
		return
	}
	data.Errors = userMessages(err)
	h.views.render(w, status, page, data)
}
