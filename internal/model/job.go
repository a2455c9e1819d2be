package model

import "time"

// RecurringJob is a persisted schedule definition.
//
// ID is the job identity: registering a job with an ID that already exists
// replaces its definition instead of adding a second schedule.
type RecurringJob struct {
	ID        string    `json:"id"`      // e.g. "notify:cv37rs3pp9olc6atsptg"
	Kind      string    `json:"kind"`    // selects the handler, e.g. "notify-email"
	Payload   string    `json:"payload"` // handler-specific, usually an account ID
	CronSpec  string    `json:"cronSpec"`
	UpdatedAt time.Time `json:"updatedAt"`
}
