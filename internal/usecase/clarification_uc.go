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
)

var _ ClarificationUseCase = (*clarificationUC)(nil)

// ClarificationUseCase re-enters a parked job once the end user replied.
type ClarificationUseCase interface {
	// ResumeWithClarification merges the reply into the payload and
	// re-enqueues the job at intent_request with a fresh attempt budget.
	ResumeWithClarification(ctx context.Context, jobID, userReply string) error
}

type clarificationUC struct {
	parked repository.ClarificationStore
	queue  repository.PrimaryQueue
	jobs   repository.JobRepository
	log    *zerolog.Logger
}

func NewClarificationUseCase(
	parked repository.ClarificationStore,
	queue repository.PrimaryQueue,
	jobs repository.JobRepository,
	logger *zerolog.Logger,
) *clarificationUC {
	return &clarificationUC{parked: parked, queue: queue, jobs: jobs, log: logger}
}

func (u *clarificationUC) ResumeWithClarification(ctx context.Context, jobID, userReply string) error {
	defer logging.TraceDuration(u.log, "ClarificationUC.Resume")()

	if userReply == "" {
		return domain.ErrInvalidArgument
	}
	job, err := u.parked.Take(ctx, jobID)
	if err != nil {
		return err
	}

	resumed := job.ResetAttempts()
	if resumed.Payload.Clarification == nil {
		resumed.Payload.Clarification = &model.Clarification{}
	}
	resumed.Payload.Clarification.Reply = userReply
	resumed.Payload.Clarification.RepliedAt = time.Now().UTC()
	// The job re-enters at intent_request, so the reply is merged into the
	// prompt context here rather than by a re-run of intent_build_context.
	resumed.Payload.PromptContext = fmt.Sprintf("%s\nUser clarification: %s", resumed.Payload.PromptContext, userReply)
	// Drop the incomplete draft so intent_request resolves again; only the
	// cheap first-pass operation classification is worth keeping.
	if resumed.Payload.Intent != nil {
		resumed.Payload.Intent = &model.Intent{Operation: resumed.Payload.Intent.Operation}
	}
	resumed.Stage = model.StageIntentRequest
	resumed.Status = model.JobStatusActive

	if err := u.jobs.Save(ctx, nil, &resumed); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("could not persist resumed job")
	}
	if err := u.queue.Enqueue(ctx, resumed, time.Time{}); err != nil {
		// Put the job back so the reply is not lost with it.
		if parkErr := u.parked.Park(ctx, *job); parkErr != nil {
			u.log.Error().Err(parkErr).Str("job_id", jobID).Msg("re-park after enqueue failure failed")
		}
		return domain.NewInfrastructureError(fmt.Errorf("enqueue resumed job: %w", err))
	}
	u.log.Info().Str("job_id", jobID).Msg("clarification reply received; pipeline resumed")
	return nil
}
