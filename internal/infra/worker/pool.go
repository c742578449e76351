package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain/ports/repository"
	"voice-calendar-pipeline/internal/usecase"
)

// Pool runs a fixed number of concurrent execution slots. Each slot owns
// exactly one in-flight job at a time; exclusivity across slots and across
// processes comes from the queue's visibility lock, not from the pool.
type Pool struct {
	queue    repository.PrimaryQueue
	jobs     repository.JobRepository
	parked   repository.ClarificationStore
	dlq      usecase.DeadLetterUseCase
	dispatch *usecase.Dispatch
	retry    usecase.RetryPolicy

	// handlerTimeout bounds one handler invocation; the visibility lock
	// duration is the natural upper bound.
	handlerTimeout time.Duration
	n              int

	paused atomic.Bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *zerolog.Logger
}

func NewPool(
	queue repository.PrimaryQueue,
	jobs repository.JobRepository,
	parked repository.ClarificationStore,
	dlq usecase.DeadLetterUseCase,
	dispatch *usecase.Dispatch,
	retry usecase.RetryPolicy,
	workers int,
	handlerTimeout time.Duration,
	logger *zerolog.Logger,
) *Pool {
	if workers <= 0 {
		workers = 3
	}
	if handlerTimeout <= 0 {
		handlerTimeout = 60 * time.Second
	}
	return &Pool{
		queue:          queue,
		jobs:           jobs,
		parked:         parked,
		dlq:            dlq,
		dispatch:       dispatch,
		retry:          retry,
		handlerTimeout: handlerTimeout,
		n:              workers,
		log:            logger,
	}
}

// Start launches the slots. Call Stop (or cancel the parent ctx) to drain.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info().Int("workers", p.n).Msg("worker pool started")
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.slot(ctx, id)
		}(i)
	}
}

// Stop cancels the slots and waits for in-flight work to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

// Pause stops slots from dequeuing new jobs; in-flight jobs finish.
func (p *Pool) Pause()       { p.paused.Store(true) }
func (p *Pool) Resume()      { p.paused.Store(false) }
func (p *Pool) Paused() bool { return p.paused.Load() }

func (p *Pool) slot(ctx context.Context, id int) {
	log := p.log.With().Int("slot", id).Logger()
	log.Debug().Msg("slot started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("slot stopped")
			return
		default:
		}
		if p.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		p.processOne(ctx, &log)
	}
}
