package usecase

import (
	"context"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
)

// StageHandler performs the work of one pipeline stage. It receives the
// accumulated payload and returns the updated payload. Handlers must be
// idempotent: re-running a stage whose result is already present in the
// payload is a cheap no-op.
type StageHandler interface {
	Handle(ctx context.Context, p model.Payload) (model.Payload, error)
}

// StageHandlerFunc adapts a function to the StageHandler interface.
type StageHandlerFunc func(ctx context.Context, p model.Payload) (model.Payload, error)

func (f StageHandlerFunc) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	return f(ctx, p)
}

// Dispatch maps a stage identifier to the collaborator that performs
// that stage's work. The table is fixed at wiring time.
type Dispatch struct {
	handlers map[model.Stage]StageHandler
}

func NewDispatch() *Dispatch {
	return &Dispatch{handlers: make(map[model.Stage]StageHandler)}
}

// Register binds a handler to a stage. Unregistered stage identifiers
// are rejected so a typo cannot create an unreachable pipeline step.
func (d *Dispatch) Register(stage model.Stage, h StageHandler) error {
	if !model.KnownStage(stage) {
		return &domain.UnknownStageError{Stage: string(stage)}
	}
	d.handlers[stage] = h
	return nil
}

// HandlerFor resolves the handler for a stage.
func (d *Dispatch) HandlerFor(stage model.Stage) (StageHandler, error) {
	h, ok := d.handlers[stage]
	if !ok {
		return nil, &domain.UnknownStageError{Stage: string(stage)}
	}
	return h, nil
}
