package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/identity-auth/internal/model"
	"github.com/sakif/identity-auth/internal/repository"
)

var _ repository.JobRepository = (*DB)(nil)

// UpsertJob stores a recurring job definition, replacing any existing row
// with the same ID. This is what makes re-registering a job an update.
func (db *DB) UpsertJob(ctx context.Context, job *model.RecurringJob) error {
	job.UpdatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO recurring_jobs (id, kind, payload, cron_spec, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			cron_spec = excluded.cron_spec,
			updated_at = excluded.updated_at`,
		job.ID,
		job.Kind,
		job.Payload,
		job.CronSpec,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting job %s: %w", job.ID, err)
	}

	return nil
}

// DeleteJob removes a job definition. Deleting a missing job is not an error.
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM recurring_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting job %s: %w", id, err)
	}
	return nil
}

// ListJobs returns every stored definition, oldest update first.
func (db *DB) ListJobs(ctx context.Context) ([]model.RecurringJob, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, kind, payload, cron_spec, updated_at
		 FROM recurring_jobs
		 ORDER BY updated_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.RecurringJob
	for rows.Next() {
		var j model.RecurringJob
		if err := rows.Scan(&j.ID, &j.Kind, &j.Payload, &j.CronSpec, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating jobs: %w", err)
	}

	return jobs, nil
}
