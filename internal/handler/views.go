// Package handler contains the HTTP handlers for the account pages.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (form fields, query params, cookies)
//  2. Call the account flows in the service package
//  3. Turn the result into a response: a rendered page, a redirect, a cookie
//
// Handlers hold no business rules. Everything that decides whether a user may
// register or sign in lives in internal/service.
package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sakif/identity-auth/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names. Each page is parsed together with base.html.
const (
	pageLogin    = "login"
	pageRegister = "register"
	pageMessage  = "message"
	pageHome     = "home"
)

// pageData is what every template receives.
type pageData struct {
	Title      string
	Errors     []string
	Message    string
	Email      string
	ReturnURL  string
	RememberMe bool
	Providers  []string
	Account    *model.Account
}

// Views holds the parsed page templates.
//
// TEMPLATE COMPOSITION:
// base.html defines the page shell with a {{template "content" .}} slot and
// every page file defines "content". Because all pages use the same block
// name, each page gets its own template set: base + that page.
type Views struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewViews parses the embedded templates once at startup.
func NewViews(logger *slog.Logger) (*Views, error) {
	v := &Views{pages: make(map[string]*template.Template), logger: logger}
	for _, name := range []string{pageLogin, pageRegister, pageMessage, pageHome} {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s template: %w", name, err)
		}
		v.pages[name] = tmpl
	}
	return v, nil
}

// render executes page into a buffer first, so a template error can still
// become a clean 500 instead of half a page.
func (v *Views) render(w http.ResponseWriter, status int, page string, data pageData) {
	tmpl, ok := v.pages[page]
	if !ok {
		v.logger.Error("unknown page", slog.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		v.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// message renders the simple message page.
func (v *Views) message(w http.ResponseWriter, status int, title, msg string) {
	v.render(w, status, pageMessage, pageData{Title: title, Message: msg})
}
