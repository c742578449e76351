package model

import (
	"time"

	"github.com/google/uuid"

	"voice-calendar-pipeline/internal/domain"
)

type JobStatus string

const (
	JobStatusActive                JobStatus = "active"
	JobStatusAwaitingClarification JobStatus = "awaiting_clarification"
	JobStatusCompleted             JobStatus = "completed"
	JobStatusDeadLettered          JobStatus = "dead_lettered"
)

// Job is the tracked unit of work for one voice message at one stage.
// All mutations return a new value; callers must treat prior values as
// stale. That value semantics is what makes concurrent dequeue/update
// safe without a lock on the record itself.
type Job struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Stage       Stage     `json:"stage"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Status      JobStatus `json:"status"`
	Payload     Payload   `json:"payload"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewJob creates a job at the first stage with a zero attempt count.
func NewJob(messageID string, payload Payload, maxAttempts int) Job {
	now := time.Now().UTC()
	return Job{
		ID:          uuid.NewString(),
		MessageID:   messageID,
		Stage:       StageWebhookReceived,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		Status:      JobStatusActive,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the job left the primary queue for good.
func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusDeadLettered
}

// Advance moves the job to its next stage with the attempt count reset.
// From intent_request the successor depends on the resolved intent: the
// clarification sub-flow when the model asked a question, otherwise the
// mutation stage matching the intent operation. A job with no successor
// is marked completed.
func (j Job) Advance() (Job, error) {
	next, ok, err := NextStage(j.Stage)
	if err != nil {
		return j, err
	}

	if j.Stage == StageIntentRequest && j.Payload.Intent != nil {
		switch {
		case j.Payload.Intent.NeedsClarification:
			next, ok = StageClarificationDispatch, true
		case j.Payload.Intent.Operation == OperationUpdate:
			next, ok = StageEventUpdate, true
		case j.Payload.Intent.Operation == OperationDelete:
			next, ok = StageEventDelete, true
		}
	}

	out := j
	out.Attempt = 0
	out.LastError = ""
	out.UpdatedAt = time.Now().UTC()
	if !ok {
		out.Status = JobStatusCompleted
		return out, nil
	}
	if !IsValidTransition(j.Stage, next) {
		return j, domain.ErrInvalidArgument
	}
	out.Stage = next
	return out, nil
}

// RecordFailure increments the attempt count and keeps the stage unchanged.
func (j Job) RecordFailure(err error) Job {
	out := j
	out.Attempt++
	if err != nil {
		out.LastError = err.Error()
	}
	out.UpdatedAt = time.Now().UTC()
	return out
}

// ResetAttempts returns the job with a fresh attempt budget, used when an
// operator requeues a dead-lettered job or a clarification resumes the flow.
func (j Job) ResetAttempts() Job {
	out := j
	out.Attempt = 0
	out.LastError = ""
	out.UpdatedAt = time.Now().UTC()
	return out
}
