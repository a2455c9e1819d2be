package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/identity-auth/internal/apperror"
	"github.com/sakif/identity-auth/internal/mail"
	"github.com/sakif/identity-auth/internal/metrics"
	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/scheduler"
)

// NotifyJobKind is the scheduler kind of the recurring notification email.
const NotifyJobKind = "notify-email"

// NotifyJobID is the job identity for an account's notification. One ID per
// account is what makes re-scheduling replace instead of pile up.
func NotifyJobID(accountID string) string {
	return "notify:" + accountID
}

// JobScheduler is the part of *scheduler.Scheduler the notifier needs.
type JobScheduler interface {
	ScheduleRecurring(ctx context.Context, jobID string, job scheduler.Job, cronExpr string) error
}

// Notifier schedules and sends the recurring notification email.
type Notifier struct {
	accounts  *AccountManager
	mailer    mail.Sender
	scheduler JobScheduler
	cronExpr  string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewNotifier creates a Notifier that schedules with cronExpr.
func NewNotifier(
	accounts *AccountManager,
	mailer mail.Sender,
	sched JobScheduler,
	cronExpr string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Notifier {
	return &Notifier{
		accounts:  accounts,
		mailer:    mailer,
		scheduler: sched,
		cronExpr:  cronExpr,
		metrics:   m,
		logger:    logger,
	}
}

// ScheduleFor (re)arms the notification for a confirmed account. Unconfirmed
// accounts are skipped without error.
func (n *Notifier) ScheduleFor(ctx context.Context, account *model.Account) error {
	if !account.EmailConfirmed {
		return nil
	}

	job := scheduler.Job{Kind: NotifyJobKind, Payload: account.ID}
	if err := n.scheduler.ScheduleRecurring(ctx, NotifyJobID(account.ID), job, n.cronExpr); err != nil {
		return fmt.Errorf("service/notifier: scheduling for account %s: %w", account.ID, err)
	}
	return nil
}

// Handle is the scheduler.Handler for NotifyJobKind. payload is the account ID.
//
// An account that has disappeared or is no longer confirmed turns the run
// into a no-op. Delivery is at-least-once: a run that fails returns the error
// and the next tick sends again.
func (n *Notifier) Handle(ctx context.Context, accountID string) error {
	account, err := n.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			n.logger.Info("notification skipped, account gone", slog.String("accountID", accountID))
			return nil
		}
		return fmt.Errorf("service/notifier: loading account %s: %w", accountID, err)
	}
	if !account.EmailConfirmed {
		return nil
	}

	body := fmt.Sprintf("Hello, %s!\n\nThis is your scheduled notification.", account.Email)
	err = n.mailer.Send(ctx, account.Email, "Your scheduled notification", body, false)
	n.metrics.EmailSent("notification", err == nil)
	if err != nil {
		return fmt.Errorf("service/notifier: sending to account %s: %w", accountID, err)
	}
	return nil
}
