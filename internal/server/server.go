// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects the repository, services,
// handlers, middleware and the background scheduler, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server and the scheduler start and stop together
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB → AccountManager → AccountService → AccountHandler
//	  sqlite.DB → Scheduler ← Notifier (handler for "notify-email")
//
// This is the "composition root" pattern: every dependency is built here and
// nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/identity-auth/internal/auth"
	"github.com/sakif/identity-auth/internal/config"
	"github.com/sakif/identity-auth/internal/handler"
	"github.com/sakif/identity-auth/internal/mail"
	"github.com/sakif/identity-auth/internal/metrics"
	"github.com/sakif/identity-auth/internal/middleware"
	sqliteRepo "github.com/sakif/identity-auth/internal/repository/sqlite"
	"github.com/sakif/identity-auth/internal/scheduler"
	"github.com/sakif/identity-auth/internal/service"
)

// shutdownTimeout bounds both the HTTP drain and the scheduler stop.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the scheduler. Run stops the
// HTTP server first, then the scheduler, and closes the database last so no
// in-flight request or job ever sees a closed connection.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
}

// New creates a Server from cfg.
//
// ctx is only used for startup work (Google's OIDC discovery document).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New()
	}

	if err := s.setupRoutes(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Scheduler returns the job scheduler.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// setupRoutes builds the services and configures all routes.
//
// ROUTE STRUCTURE:
// GET    /                               → redirect to /Home/Index
// GET    /healthz                        → liveness + DB ping (JSON)
// GET    /metrics                        → Prometheus (when METRICS_ENABLED)
// GET    /Account/Register               → registration form
// POST   /Account/Register               → create account       [rate limited]
// GET    /Account/Login                  → login form
// POST   /Account/Login                  → password sign-in     [rate limited]
// POST   /Account/Logout                 → clear session
// POST   /Account/ExternalLogin          → start Google sign-in [404 without Google]
// GET    /Account/ExternalLoginCallback  → finish Google sign-in
// GET    /Account/ConfirmEmail           → consume confirmation link
// GET    /Home/Index                     → landing page         [auth required]
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: unique ID per request, picked up by the logger
//  2. RealIP: client IP from proxy headers, used by the rate limiter.
//     Only with TRUST_PROXY_HEADERS; otherwise any client could pick a new
//     IP per request and get a fresh rate-limit bucket each time.
//  3. Recoverer: a panic becomes a 500 instead of a crash
//  4. Logger: one line per request
func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.config

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	if cfg.TrustProxyHeaders {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// === Auth building blocks ===
	tokens, err := auth.NewTokenService(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	confirmations, err := auth.NewConfirmationTokens(cfg.ConfirmationSecret, cfg.ConfirmationTokenTTL)
	if err != nil {
		return fmt.Errorf("creating confirmation tokens: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.BcryptCost)

	var providers []auth.Provider
	if cfg.GoogleEnabled() {
		google, err := auth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL)
		if err != nil {
			return fmt.Errorf("creating google provider: %w", err)
		}
		providers = append(providers, google)
	} else {
		s.logger.Warn("GOOGLE_CLIENT_ID not set, external login is disabled")
	}

	// === Mail ===
	mailer, err := s.newMailer()
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}

	// === Services ===
	// DEPENDENCY CHAIN:
	//   s.db implements repository.AccountRepository and repository.JobRepository
	//   AccountManager wraps the repository with hashing and tokens
	//   Notifier is both the scheduler's "notify-email" handler and the
	//   AccountService's NotificationScheduler
	accounts := service.NewAccountManager(s.db, passwords, confirmations, s.logger)

	s.scheduler = scheduler.New(s.db, s.logger, scheduler.WithMetrics(s.metrics))
	notifier := service.NewNotifier(accounts, mailer, s.scheduler, cfg.NotifierCron, s.metrics, s.logger)
	s.scheduler.Register(service.NotifyJobKind, notifier.Handle)

	flows := service.NewAccountService(accounts, tokens, mailer, notifier, s.metrics, service.Options{
		BaseURL:              cfg.BaseURL,
		EmailConfirmation:    cfg.EmailConfirmationEnabled,
		SessionTTL:           cfg.SessionTTL,
		PersistentSessionTTL: cfg.SessionPersistentTTL,
	}, s.logger)

	// === Handlers ===
	views, err := handler.NewViews(s.logger)
	if err != nil {
		return err
	}
	accountHandler := handler.NewAccountHandler(flows, providers, views, handler.CookieOptions{Secure: cfg.CookieSecure}, s.logger)

	limiter := middleware.NewRateLimiter(cfg.LoginRatePerMinute, cfg.LoginRateBurst, s.metrics.RateLimited)

	// === Routes ===
	s.router.Get("/", handler.HandleRoot)
	s.router.Get("/healthz", handler.HandleHealth(s.db))
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/Account", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/Register", accountHandler.HandleRegisterPage)
			r.Get("/Login", accountHandler.HandleLoginPage)
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit)
			r.Post("/Register", accountHandler.HandleRegister)
			r.Post("/Login", accountHandler.HandleLogin)
		})

		r.Post("/Logout", accountHandler.HandleLogout)
		r.Get("/ConfirmEmail", accountHandler.HandleConfirmEmail)

		// Without a provider these routes are simply not registered, so chi
		// answers 404.
		if accountHandler.HasProviders() {
			r.Post("/ExternalLogin", accountHandler.HandleExternalLogin)
			r.Get("/ExternalLoginCallback", accountHandler.HandleExternalLoginCallback)
		}
	})

	s.router.Route("/Home", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/Index", accountHandler.HandleIndex)
	})

	return nil
}

// newMailer picks the SMTP sender when SMTP_HOST is set and the logging
// sender otherwise.
func (s *Server) newMailer() (mail.Sender, error) {
	if !s.config.SMTPEnabled() {
		s.logger.Warn("SMTP_HOST not set, emails will be logged instead of sent")
		return mail.NewLogSender(s.logger), nil
	}
	smtp := s.config.SMTP
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     smtp.Host,
		Port:     smtp.Port,
		Username: smtp.Username,
		Password: smtp.Password,
		From:     smtp.From,
		FromName: smtp.FromName,
	}, s.logger)
}

// Run serves HTTP and runs the scheduler until ctx is cancelled.
//
// GRACEFUL SHUTDOWN:
// The HTTP server and the scheduler run in one errgroup. Cancelling ctx
// (SIGINT/SIGTERM in main) or either side failing starts the shutdown:
//  1. Stop accepting connections, wait up to 30s for in-flight requests
//  2. Only then stop scheduling jobs, wait up to 30s for running ones
//  3. Close the database (flushes WAL, releases the file lock)
//
// The scheduler gets its own context, cancelled after the HTTP drain, so a
// request still finishing can schedule a job on a live scheduler.
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer stopScheduler()

		<-gctx.Done()
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	g.Go(func() error {
		return s.scheduler.Run(schedCtx, shutdownTimeout)
	})

	return g.Wait()
}
