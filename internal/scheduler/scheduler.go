// Package scheduler runs recurring jobs on cron schedules and persists their
// definitions so they survive a restart.
//
// MODEL:
//   - A handler is registered per job kind ("notify-email").
//   - A job is scheduled under an ID ("notify:<accountID>") with a kind, a
//     payload and a cron expression.
//   - Scheduling an ID that already exists replaces its definition. There is
//     never more than one live entry per ID.
//
// Timing comes from robfig/cron. Persistence goes through
// repository.JobRepository; on Start every stored definition is loaded back
// into the cron runner.
//
// DELIVERY:
// At-least-once is all we promise. A run that fails is logged and counted, and
// the next tick runs it again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/metrics"
	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/repository"
)

// DefaultRunTimeout bounds a single job execution.
const DefaultRunTimeout = time.Minute

// Handler executes one run of a job. payload is the value the job was
// scheduled with.
type Handler func(ctx context.Context, payload string) error

// Job describes what to run: Kind selects the registered Handler.
type Job struct {
	Kind    string
	Payload string
}

// Scheduler owns the cron runner and the persisted definitions.
type Scheduler struct {
	repo       repository.JobRepository
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cron       *cron.Cron
	runTimeout time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	entries  map[string]cron.EntryID

	// baseCtx is cancelled by Stop so in-flight runs see shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunTimeout overrides DefaultRunTimeout.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithMetrics counts job runs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a stopped scheduler.
func New(repo repository.JobRepository, logger *slog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		repo:       repo,
		logger:     logger,
		cron:       cron.New(),
		runTimeout: DefaultRunTimeout,
		handlers:   make(map[string]Handler),
		entries:    make(map[string]cron.EntryID),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds a handler to a job kind. Register every kind before Start:
// persisted jobs of an unknown kind are skipped when they are reloaded.
func (s *Scheduler) Register(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// ScheduleRecurring stores the job under jobID and (re)arms its cron entry.
//
// Returns a validation error for an empty ID, an unregistered kind or an
// unparseable cron expression. Nothing is stored in those cases.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, jobID string, job Job, cronExpr string) error {
	if jobID == "" {
		return apperror.ValidationFailed("jobID", "job id is required")
	}

	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return apperror.ValidationFailed("cron", fmt.Sprintf("invalid cron expression %q: %v", cronExpr, err))
	}

	s.mu.Lock()
	_, known := s.handlers[job.Kind]
	s.mu.Unlock()
	if !known {
		return apperror.ValidationFailed("kind", fmt.Sprintf("no handler registered for job kind %q", job.Kind))
	}

	def := &model.RecurringJob{
		ID:       jobID,
		Kind:     job.Kind,
		Payload:  job.Payload,
		CronSpec: cronExpr,
	}
	if err := s.repo.UpsertJob(ctx, def); err != nil {
		return fmt.Errorf("scheduler: storing job %s: %w", jobID, err)
	}

	s.arm(jobID, job, schedule)
	s.logger.Info("job scheduled",
		slog.String("jobID", jobID),
		slog.String("kind", job.Kind),
		slog.String("cron", cronExpr),
	)
	return nil
}

// Remove deletes the job definition and its cron entry. Removing an unknown
// job is not an error.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	if err := s.repo.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("scheduler: deleting job %s: %w", jobID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[jobID]; ok {
		s.cron.Remove(id)
		delete(s.entries, jobID)
	}
	return nil
}

// Start reloads persisted definitions and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	defs, err := s.repo.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading jobs: %w", err)
	}

	loaded := 0
	for _, def := range defs {
		schedule, err := cron.ParseStandard(def.CronSpec)
		if err != nil {
			s.logger.Warn("skipping stored job with invalid cron",
				slog.String("jobID", def.ID),
				slog.String("cron", def.CronSpec),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.mu.Lock()
		_, known := s.handlers[def.Kind]
		s.mu.Unlock()
		if !known {
			s.logger.Warn("skipping stored job of unknown kind",
				slog.String("jobID", def.ID),
				slog.String("kind", def.Kind),
			)
			continue
		}

		s.arm(def.ID, Job{Kind: def.Kind, Payload: def.Payload}, schedule)
		loaded++
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", loaded))
	return nil
}

// Stop stops scheduling new runs and waits for running ones, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for running jobs: %w", ctx.Err())
	}
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops it.
// It fits errgroup.Group.Go.
func (s *Scheduler) Run(ctx context.Context, stopTimeout time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Len reports how many jobs are armed.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// arm replaces the cron entry for jobID.
func (s *Scheduler) arm(jobID string, job Job, schedule cron.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[jobID]; ok {
		s.cron.Remove(id)
	}
	s.entries[jobID] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.execute(jobID, job)
	}))
}

// execute runs one job with a timeout derived from the scheduler lifetime.
// A panicking handler is recovered so it cannot take the process down.
func (s *Scheduler) execute(jobID string, job Job) {
	s.mu.Lock()
	h, ok := s.handlers[job.Kind]
	s.mu.Unlock()
	if !ok {
		s.logger.Error("no handler for job kind",
			slog.String("jobID", jobID),
			slog.String("kind", job.Kind),
		)
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.runTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scheduler: job panicked: %v", r)
			}
		}()
		return h(ctx, job.Payload)
	}()

	s.metrics.JobRun(job.Kind, err == nil)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "job failed",
			slog.String("jobID", jobID),
			slog.String("kind", job.Kind),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("job completed",
		slog.String("jobID", jobID),
		slog.String("kind", job.Kind),
		slog.Duration("duration", time.Since(start)),
	)
}
