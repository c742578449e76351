package repository

import (
	"context"
	"time"

	"voice-calendar-pipeline/internal/domain/model"
)

// DeadLetterEntry is a job frozen at the time of final failure, plus the
// captured error from the last attempt. Read-only once written.
type DeadLetterEntry struct {
	ID       string
	Job      model.Job
	Cause    string
	FailedAt time.Time
}

// DLQFilter narrows operator listings. Zero values match everything.
type DLQFilter struct {
	Stage     model.Stage
	MessageID string
	Limit     int
}

// DeadLetterRepository is the durable quarantine store. Entries leave only
// by explicit operator action; the pipeline never auto-revives them.
type DeadLetterRepository interface {
	// Add appends an entry, idempotent on the job id.
	Add(ctx context.Context, tx Tx, job model.Job, cause string) error
	List(ctx context.Context, tx Tx, f DLQFilter) ([]*DeadLetterEntry, error)
	FindByID(ctx context.Context, tx Tx, entryID string) (*DeadLetterEntry, error)
	Delete(ctx context.Context, tx Tx, entryID string) error
	// PurgeOlderThan removes entries that failed before cutoff and returns
	// the count removed. Retention is operator policy, never automatic.
	PurgeOlderThan(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
	Count(ctx context.Context, tx Tx) (int, error)
}
