package usecase

import (
	"context"

	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
)

var _ StatsUseCase = (*statsUC)(nil)

// StatsUseCase serves operator inspection of pipeline state.
type StatsUseCase interface {
	QueueDepths(ctx context.Context) (map[model.Stage]int, error)
	DLQSize(ctx context.Context) (int, error)
	AwaitingClarification(ctx context.Context) (int, error)
	// JobByID reads the durable job record, including completed and
	// dead-lettered jobs kept in the archive.
	JobByID(ctx context.Context, id string) (*model.Job, error)
}

type statsUC struct {
	queue  repository.PrimaryQueue
	dlq    repository.DeadLetterRepository
	parked repository.ClarificationStore
	jobs   repository.JobRepository
}

func NewStatsUseCase(queue repository.PrimaryQueue, dlq repository.DeadLetterRepository, parked repository.ClarificationStore, jobs repository.JobRepository) *statsUC {
	return &statsUC{queue: queue, dlq: dlq, parked: parked, jobs: jobs}
}

func (u *statsUC) QueueDepths(ctx context.Context) (map[model.Stage]int, error) {
	return u.queue.Depths(ctx)
}

func (u *statsUC) DLQSize(ctx context.Context) (int, error) {
	return u.dlq.Count(ctx, nil)
}

func (u *statsUC) AwaitingClarification(ctx context.Context) (int, error) {
	return u.parked.Count(ctx)
}

func (u *statsUC) JobByID(ctx context.Context, id string) (*model.Job, error) {
	return u.jobs.FindByID(ctx, nil, id)
}
