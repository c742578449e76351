package usecase

import (
	"time"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
)

// RetryPolicy computes backoff delays and the attempt ceiling. It is
// configured per deployment, not per job.
type RetryPolicy struct {
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff; zero means uncapped.
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy mirrors the deployment defaults: 5s base, 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 5 * time.Second, MaxAttempts: 3}
}

// ShouldRetry reports whether the job has attempts left.
func (p RetryPolicy) ShouldRetry(j model.Job) bool {
	max := j.MaxAttempts
	if max <= 0 {
		max = p.MaxAttempts
	}
	return j.Attempt < max
}

// BackoffDelay returns base * 2^(attempt-1). The attempt count must be at
// least 1: backoff only applies after a failure has been recorded.
func (p RetryPolicy) BackoffDelay(attempt int) (time.Duration, error) {
	if attempt < 1 {
		return 0, domain.ErrInvalidArgument
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay, nil
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d, nil
}
