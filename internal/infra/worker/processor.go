package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/infra/logging"
	"voice-calendar-pipeline/internal/infra/metrics"
)

// processOne claims one job, runs its stage handler and routes the outcome.
// Every exit path releases the visibility lock exactly once.
func (p *Pool) processOne(ctx context.Context, log *zerolog.Logger) {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		metrics.IncInfraAlert("queue")
		log.Error().Err(err).Msg("dequeue failed")
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	jctx := logging.WithJobID(ctx, job.ID)
	jctx = logging.WithMessageID(jctx, job.MessageID)
	jctx = logging.WithStage(jctx, string(job.Stage))
	jlog := logging.With(jctx, log)
	defer logging.TraceDuration(jlog, "process job")()

	handler, err := p.dispatch.HandlerFor(job.Stage)
	if err != nil {
		// A stage no handler claims can never succeed. Dead-letter it so
		// an operator sees it instead of it cycling through retries.
		p.deadLetter(jctx, jlog, *job, err)
		return
	}

	hctx, cancel := context.WithTimeout(jctx, p.handlerTimeout)
	start := time.Now()
	payload, herr := handler.Handle(hctx, job.Payload)
	cancel()
	metrics.ObserveHandlerLatency(string(job.Stage), int(time.Since(start).Milliseconds()), herr == nil)

	if herr != nil {
		p.routeFailure(jctx, jlog, *job, payload, herr)
		return
	}

	job.Payload = payload
	metrics.IncJobProcessed(string(job.Stage), "success")
	p.routeSuccess(jctx, jlog, *job)
}

// routeSuccess advances the job and hands it to its next home: the next
// stage's queue, the clarification parking lot, or the archive.
func (p *Pool) routeSuccess(ctx context.Context, log *zerolog.Logger, job model.Job) {
	advanced, err := job.Advance()
	if err != nil {
		p.deadLetter(ctx, log, job, err)
		return
	}

	if advanced.Stage == model.StageClarificationResponse && advanced.Status == model.JobStatusActive {
		// The pipeline stops here until the user replies. The job lives in
		// the clarification store, not the queue.
		advanced.Status = model.JobStatusAwaitingClarification
		if err := p.parked.Park(ctx, advanced); err != nil {
			metrics.IncInfraAlert("clarification_store")
			log.Error().Err(err).Msg("park failed, job stays queued")
			p.nackSoon(ctx, log, job)
			return
		}
		if err := p.jobs.Save(ctx, nil, &advanced); err != nil {
			log.Error().Err(err).Msg("persist parked job failed")
		}
		p.finish(ctx, log, job.ID)
		log.Info().Msg("job parked awaiting clarification")
		return
	}

	if advanced.Status == model.JobStatusCompleted {
		if err := p.jobs.Save(ctx, nil, &advanced); err != nil {
			metrics.IncInfraAlert("database")
			log.Error().Err(err).Msg("archive completed job failed")
			p.nackSoon(ctx, log, job)
			return
		}
		if err := p.queue.Remove(ctx, job.ID); err != nil {
			log.Warn().Err(err).Msg("remove completed job from queue failed")
		}
		log.Info().Msg("job completed")
		return
	}

	// Enqueue before releasing the lock so a crash in between re-delivers
	// instead of losing the job.
	if err := p.queue.Enqueue(ctx, advanced, time.Time{}); err != nil {
		metrics.IncInfraAlert("queue")
		log.Error().Err(err).Msg("enqueue next stage failed")
		p.nackSoon(ctx, log, job)
		return
	}
	if err := p.jobs.Save(ctx, nil, &advanced); err != nil {
		log.Warn().Err(err).Msg("persist advanced job failed")
	}
	p.finish(ctx, log, job.ID)
	log.Debug().Str("next_stage", string(advanced.Stage)).Msg("job advanced")
}

// routeFailure records the attempt and routes by failure class: validation
// and permanent failures dead-letter immediately, transient ones back off
// until attempts run out, infrastructure failures return the job untouched.
func (p *Pool) routeFailure(ctx context.Context, log *zerolog.Logger, job model.Job, payload model.Payload, herr error) {
	class := domain.ClassifyFailure(herr)
	log.Warn().Err(herr).Stringer("class", class).Int("attempt", job.Attempt+1).Msg("stage handler failed")

	if class == domain.FailureInfrastructure {
		// Not the job's fault. Release it without burning an attempt.
		metrics.IncInfraAlert(string(job.Stage))
		p.nackSoon(ctx, log, job)
		return
	}

	failed := job.RecordFailure(herr)
	failed.Payload = payload
	metrics.IncJobProcessed(string(job.Stage), "failure")

	if class == domain.FailureValidation || class == domain.FailurePermanent {
		p.deadLetter(ctx, log, failed, herr)
		return
	}

	if !p.retry.ShouldRetry(failed) {
		p.deadLetter(ctx, log, failed, herr)
		return
	}

	delay, err := p.retry.BackoffDelay(failed.Attempt)
	if err != nil {
		delay = p.retry.BaseDelay
	}
	if err := p.queue.Enqueue(ctx, failed, time.Now().UTC().Add(delay)); err != nil {
		metrics.IncInfraAlert("queue")
		log.Error().Err(err).Msg("schedule retry failed")
		p.nackSoon(ctx, log, job)
		return
	}
	if err := p.jobs.Save(ctx, nil, &failed); err != nil {
		log.Warn().Err(err).Msg("persist retried job failed")
	}
	p.finish(ctx, log, job.ID)
	metrics.IncRetryScheduled(string(job.Stage))
	log.Info().Dur("delay", delay).Int("attempt", failed.Attempt).Msg("retry scheduled")
}

func (p *Pool) deadLetter(ctx context.Context, log *zerolog.Logger, job model.Job, cause error) {
	if err := p.dlq.MoveToDLQ(ctx, job, cause.Error()); err != nil {
		metrics.IncInfraAlert("dlq")
		log.Error().Err(err).Msg("move to dead letter queue failed")
		p.nackSoon(ctx, log, job)
		return
	}
	log.Warn().Err(cause).Msg("job dead-lettered")
}

// nackSoon returns the job to the queue after a short delay so another
// attempt at routing can happen once the flaky dependency recovers.
func (p *Pool) nackSoon(ctx context.Context, log *zerolog.Logger, job model.Job) {
	if err := p.queue.Nack(ctx, job.ID, time.Now().UTC().Add(2*time.Second)); err != nil {
		// The lock will expire and the reaper re-delivers; nothing is lost.
		log.Warn().Err(err).Msg("nack failed, relying on lock expiry")
	}
}

func (p *Pool) finish(ctx context.Context, log *zerolog.Logger, jobID string) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrLockLost) {
			log.Warn().Msg("visibility lock lost before ack, duplicate delivery possible")
			return
		}
		log.Warn().Err(err).Msg("ack failed")
	}
}
