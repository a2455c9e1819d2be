package sqlite

import (
	"context"
	"testing"

	"github.com/sakif/identity-auth/internal/model"
)

func TestUpsertJob_ReplacesDefinition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.RecurringJob{ID: "notify:a", Kind: "notify-email", Payload: "a", CronSpec: "* * * * *"}
	if err := db.UpsertJob(ctx, first); err != nil {
		t.Fatalf("UpsertJob() error = %v", err)
	}

	second := &model.RecurringJob{ID: "notify:a", Kind: "notify-email", Payload: "a", CronSpec: "@daily"}
	if err := db.UpsertJob(ctx, second); err != nil {
		t.Fatalf("UpsertJob() second error = %v", err)
	}

	jobs, err := db.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("ListJobs() returned %d jobs, want 1", len(jobs))
	}
	if jobs[0].CronSpec != "@daily" {
		t.Errorf("CronSpec = %q, want %q", jobs[0].CronSpec, "@daily")
	}
}

func TestDeleteJob(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.UpsertJob(ctx, &model.RecurringJob{ID: "j1", Kind: "k", CronSpec: "@hourly"}); err != nil {
		t.Fatalf("UpsertJob() error = %v", err)
	}
	if err := db.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	// Deleting again is a no-op.
	if err := db.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("DeleteJob() second call error = %v", err)
	}

	jobs, err := db.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("ListJobs() returned %d jobs, want 0", len(jobs))
	}
}
