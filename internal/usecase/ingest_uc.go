package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
	"voice-calendar-pipeline/internal/infra/logging"
	"voice-calendar-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ IngestUseCase = (*ingestUC)(nil)

// SourceEvent is the provider webhook payload relevant to the pipeline.
type SourceEvent struct {
	ChatID      int64
	VoiceFileID string
	AudioURL    string
}

// IngestUseCase creates exactly one pipeline per message id.
type IngestUseCase interface {
	// Ingest is idempotent on messageID: duplicate webhook deliveries for a
	// message with a non-terminal job return the existing job id.
	Ingest(ctx context.Context, messageID string, ev SourceEvent) (string, error)
}

// RateLimiter is the fixed-window limiter used to damp webhook storms.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type ingestUC struct {
	jobs        repository.JobRepository
	queue       repository.PrimaryQueue
	tm          repository.TransactionManager
	limiter     RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	maxAttempts int
	log         *zerolog.Logger
}

func NewIngestUseCase(
	jobs repository.JobRepository,
	queue repository.PrimaryQueue,
	tm repository.TransactionManager,
	limiter RateLimiter,
	rateLimit int,
	rateWindow time.Duration,
	maxAttempts int,
	logger *zerolog.Logger,
) *ingestUC {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ingestUC{
		jobs:        jobs,
		queue:       queue,
		tm:          tm,
		limiter:     limiter,
		rateLimit:   rateLimit,
		rateWindow:  rateWindow,
		maxAttempts: maxAttempts,
		log:         logger,
	}
}

func (u *ingestUC) Ingest(ctx context.Context, messageID string, ev SourceEvent) (string, error) {
	defer logging.TraceDuration(u.log, "IngestUC.Ingest")()

	if messageID == "" {
		return "", domain.ErrInvalidArgument
	}
	if u.limiter != nil && u.rateLimit > 0 {
		key := fmt.Sprintf("ingest:%d", ev.ChatID)
		ok, err := u.limiter.Allow(ctx, key, u.rateLimit, u.rateWindow)
		if err != nil {
			// Limiter outage must not drop messages; log and continue.
			u.log.Warn().Err(err).Msg("ingest rate limiter unavailable")
		} else if !ok {
			return "", domain.ErrInvalidArgument
		}
	}

	job := model.NewJob(messageID, model.Payload{
		SourceChatID: ev.ChatID,
		VoiceFileID:  ev.VoiceFileID,
		AudioURL:     ev.AudioURL,
	}, u.maxAttempts)

	var (
		jobID string
		dup   *model.Job
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.jobs.FindActiveByMessageID(ctx, tx, messageID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			jobID = existing.ID
			dup = existing
			return domain.ErrAlreadyExists
		}
		if err := u.jobs.Create(ctx, tx, &job); err != nil {
			return err
		}
		jobID = job.ID
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Duplicate delivery: one pipeline per message, hand back the same id.
		u.log.Debug().Str("message_id", messageID).Str("job_id", jobID).Msg("duplicate webhook ignored")
		metrics.IncIngest("duplicate")
		if err := u.recoverIfStranded(ctx, dup); err != nil {
			return "", err
		}
		return jobID, nil
	}
	if err != nil {
		return "", err
	}

	if err := u.queue.Enqueue(ctx, job, time.Time{}); err != nil {
		// Roll the row back so a redelivery recreates the job instead of
		// landing on the duplicate path with nothing queued.
		if derr := u.jobs.Delete(ctx, nil, job.ID); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			metrics.IncInfraAlert("database")
			u.log.Error().Err(derr).Str("job_id", job.ID).Msg("job row left behind after enqueue failure")
		}
		return "", domain.NewInfrastructureError(fmt.Errorf("enqueue ingested job: %w", err))
	}
	metrics.IncIngest("accepted")
	u.log.Info().Str("message_id", messageID).Str("job_id", job.ID).Msg("voice message ingested")
	return job.ID, nil
}

// recoverIfStranded re-enqueues a job whose row committed but whose enqueue
// never happened (process died between the two). Such a job is still at the
// first stage with no attempts, and the queue has no record of it; without
// this, every redelivery would echo its id while nothing ever runs it.
func (u *ingestUC) recoverIfStranded(ctx context.Context, job *model.Job) error {
	if job == nil || job.Stage != model.StageWebhookReceived ||
		job.Attempt != 0 || job.Status != model.JobStatusActive {
		return nil
	}
	queued, err := u.queue.Contains(ctx, job.ID)
	if err != nil {
		return domain.NewInfrastructureError(fmt.Errorf("check queue for job %s: %w", job.ID, err))
	}
	if queued {
		return nil
	}
	if err := u.queue.Enqueue(ctx, *job, time.Time{}); err != nil {
		return domain.NewInfrastructureError(fmt.Errorf("re-enqueue stranded job %s: %w", job.ID, err))
	}
	u.log.Warn().Str("job_id", job.ID).Str("message_id", job.MessageID).Msg("stranded job re-enqueued on duplicate delivery")
	return nil
}
