package repository

import (
	"context"
	"time"

	"voice-calendar-pipeline/internal/domain/model"
)

// PrimaryQueue is the durable at-least-once job store. Delivery is FIFO
// within a stage; stages are served in weight order. A dequeued job is
// invisible to other consumers until acked, nacked, or its visibility
// lock expires.
type PrimaryQueue interface {
	// Enqueue stores the job and schedules it at its current stage.
	// A future notBefore delays visibility without busy polling.
	Enqueue(ctx context.Context, job model.Job, notBefore time.Time) error

	// Dequeue blocks until a job is available or ctx is done. The returned
	// job is claimed for the queue's lock duration.
	Dequeue(ctx context.Context) (*model.Job, error)

	// Ack releases the claim after successful handling. Returns
	// domain.ErrLockLost when the visibility lock already expired.
	Ack(ctx context.Context, jobID string) error

	// Nack returns an unprocessed job to its stage, visible from notBefore.
	Nack(ctx context.Context, jobID string, notBefore time.Time) error

	// Remove deletes the job's queue state entirely (terminal archive,
	// move to DLQ).
	Remove(ctx context.Context, jobID string) error

	// Contains reports whether the queue tracks the job in any state
	// (ready, delayed or in flight).
	Contains(ctx context.Context, jobID string) (bool, error)

	// Depths reports ready jobs per stage for operator inspection.
	Depths(ctx context.Context) (map[model.Stage]int, error)
}
