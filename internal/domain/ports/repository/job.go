package repository

import (
	"context"

	"voice-calendar-pipeline/internal/domain/model"
)

// JobRepository is the durable record of every job, including the
// completed archive. The primary queue holds scheduling state; this
// holds the system of record used for idempotent ingestion and
// operator inspection.
type JobRepository interface {
	// Create inserts a new job. Returns domain.ErrAlreadyExists when a
	// non-terminal job for the same message id exists (duplicate webhook).
	Create(ctx context.Context, tx Tx, job *model.Job) error
	// Save upserts the job's current state.
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// Delete removes the row. Used to roll back an insert whose enqueue
	// failed; domain.ErrNotFound when no such job exists.
	Delete(ctx context.Context, tx Tx, id string) error
	// FindActiveByMessageID returns the non-terminal job for a message id,
	// or domain.ErrNotFound.
	FindActiveByMessageID(ctx context.Context, tx Tx, messageID string) (*model.Job, error)
}
