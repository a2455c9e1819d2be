package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/identity-auth/internal/apperror"
)

// internalErrorMessage is shown for anything that is not an *AppError.
// Raw errors can contain SQL or file paths and never reach a page.
const internalErrorMessage = "An internal error occurred"

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to an HTTP status.
//
// errors.Is walks the whole Unwrap chain, so a service error like
// fmt.Errorf("...: %w", apperror.NotFound(...)) still maps to 404.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// userMessages returns what may be shown to the user for err.
func userMessages(err error) []string {
	if msgs := apperror.MessagesOf(err); len(msgs) > 0 && statusFor(err) != http.StatusInternalServerError {
		return msgs
	}
	return []string{internalErrorMessage}
}

// renderError renders err on the message page with its mapped status.
// Server errors are logged with the request id; the page only ever says
// internalErrorMessage for them.
func (v *Views) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		v.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	title := http.StatusText(status)
	v.render(w, status, pageMessage, pageData{Title: title, Errors: userMessages(err)})
}
