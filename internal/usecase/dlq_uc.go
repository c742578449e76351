package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
	"voice-calendar-pipeline/internal/infra/logging"
	"voice-calendar-pipeline/internal/infra/metrics"
)

var _ DeadLetterUseCase = (*deadLetterUC)(nil)

// DeadLetterUseCase is the operator surface over the quarantine store and
// the worker pool's only path into it.
type DeadLetterUseCase interface {
	// MoveToDLQ freezes the job and removes it from the primary queue.
	// Callable only when the job must not be retried.
	MoveToDLQ(ctx context.Context, job model.Job, cause string) error
	List(ctx context.Context, f repository.DLQFilter) ([]*repository.DeadLetterEntry, error)
	// Requeue resets the attempt count and re-enqueues at the frozen stage.
	// This is the only path back into the primary queue, always operator-driven.
	Requeue(ctx context.Context, entryID string) (*model.Job, error)
	Delete(ctx context.Context, entryID string) error
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error)
}

type deadLetterUC struct {
	dlq   repository.DeadLetterRepository
	jobs  repository.JobRepository
	queue repository.PrimaryQueue
	log   *zerolog.Logger
}

func NewDeadLetterUseCase(
	dlq repository.DeadLetterRepository,
	jobs repository.JobRepository,
	queue repository.PrimaryQueue,
	logger *zerolog.Logger,
) *deadLetterUC {
	return &deadLetterUC{dlq: dlq, jobs: jobs, queue: queue, log: logger}
}

func (u *deadLetterUC) MoveToDLQ(ctx context.Context, job model.Job, cause string) error {
	defer logging.TraceDuration(u.log, "DLQUC.MoveToDLQ")()

	frozen := job
	frozen.Status = model.JobStatusDeadLettered
	frozen.UpdatedAt = time.Now().UTC()

	if err := u.dlq.Add(ctx, nil, frozen, cause); err != nil {
		return fmt.Errorf("append dead-letter entry: %w", err)
	}
	if err := u.jobs.Save(ctx, nil, &frozen); err != nil {
		u.log.Error().Err(err).Str("job_id", job.ID).Msg("could not persist dead-lettered job state")
	}
	if err := u.queue.Remove(ctx, job.ID); err != nil {
		return domain.NewInfrastructureError(fmt.Errorf("remove dead-lettered job from queue: %w", err))
	}
	metrics.IncDeadLetter(string(job.Stage))
	u.log.Warn().
		Str("job_id", job.ID).
		Str("message_id", job.MessageID).
		Str("stage", string(job.Stage)).
		Int("attempt", job.Attempt).
		Str("cause", cause).
		Msg("job dead-lettered")
	return nil
}

func (u *deadLetterUC) List(ctx context.Context, f repository.DLQFilter) ([]*repository.DeadLetterEntry, error) {
	return u.dlq.List(ctx, nil, f)
}

func (u *deadLetterUC) Requeue(ctx context.Context, entryID string) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "DLQUC.Requeue")()

	entry, err := u.dlq.FindByID(ctx, nil, entryID)
	if err != nil {
		return nil, err
	}

	job := entry.Job.ResetAttempts()
	job.Status = model.JobStatusActive

	if err := u.jobs.Save(ctx, nil, &job); err != nil {
		return nil, err
	}
	if err := u.queue.Enqueue(ctx, job, time.Time{}); err != nil {
		return nil, domain.NewInfrastructureError(fmt.Errorf("enqueue requeued job: %w", err))
	}
	if err := u.dlq.Delete(ctx, nil, entryID); err != nil {
		// The entry will be re-added idempotently if the job fails again.
		u.log.Error().Err(err).Str("entry_id", entryID).Msg("could not delete requeued dead-letter entry")
	}
	u.log.Info().Str("entry_id", entryID).Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("dead-letter entry requeued")
	return &job, nil
}

func (u *deadLetterUC) Delete(ctx context.Context, entryID string) error {
	return u.dlq.Delete(ctx, nil, entryID)
}

func (u *deadLetterUC) PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, domain.ErrInvalidArgument
	}
	cutoff := time.Now().UTC().Add(-retention)
	n, err := u.dlq.PurgeOlderThan(ctx, nil, cutoff)
	if err != nil {
		return 0, err
	}
	u.log.Info().Int("purged", n).Time("cutoff", cutoff).Msg("dead-letter entries purged")
	return n, nil
}
