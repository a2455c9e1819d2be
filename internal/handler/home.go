package handler

import (
	"errors"
	"net/http"

	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/auth"
)

// HandleIndex renders the landing page for the signed-in account.
//
// HTTP: GET /Home/Index  (behind auth.RequireAuth)
//
// A session that outlived its account (deleted database, stale cookie) is
// cleared and sent back to the login page rather than shown an error.
func (h *AccountHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}

	account, err := h.flows.Landing(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			h.cookies.clearSession(w)
			http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
			return
		}
		h.views.renderError(w, r, err)
		return
	}

	h.views.render(w, http.StatusOK, pageHome, pageData{Title: "Home", Account: account})
}

// HandleRoot sends / to the landing page.
//
// HTTP: GET /
func HandleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, LandingPath, http.StatusFound)
}

// HealthChecker is anything that can report whether a dependency is up.
type HealthChecker interface {
	Ping() error
}

// HandleHealth reports liveness plus database reachability.
//
// HTTP: GET /healthz
func HandleHealth(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
