package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/repository"
	"voice-calendar-pipeline/internal/usecase"
)

// WebhookFacade is the single inbound seam: provider update handlers call
// it, it translates updates into pipeline operations. Keeps provider types
// out of the use case layer.
type WebhookFacade struct {
	ingest  usecase.IngestUseCase
	clarify usecase.ClarificationUseCase
	parked  repository.ClarificationStore
	log     *zerolog.Logger
}

func NewWebhookFacade(
	ingest usecase.IngestUseCase,
	clarify usecase.ClarificationUseCase,
	parked repository.ClarificationStore,
	logger *zerolog.Logger,
) *WebhookFacade {
	return &WebhookFacade{ingest: ingest, clarify: clarify, parked: parked, log: logger}
}

// HandleVoiceMessage starts (or, on duplicate delivery, re-finds) the
// pipeline for one voice message.
func (f *WebhookFacade) HandleVoiceMessage(ctx context.Context, messageID string, chatID int64, voiceFileID string) (string, error) {
	if messageID == "" || voiceFileID == "" {
		return "", fmt.Errorf("%w: message id and voice file id required", domain.ErrInvalidArgument)
	}
	jobID, err := f.ingest.Ingest(ctx, messageID, usecase.SourceEvent{
		ChatID:      chatID,
		VoiceFileID: voiceFileID,
	})
	if err != nil {
		f.log.Error().Err(err).Str("message_id", messageID).Msg("ingest failed")
		return "", err
	}
	return jobID, nil
}

// HandleTextReply routes a plain text message to the job parked on that
// chat, if any. Returns domain.ErrNotFound when no clarification is
// pending; the caller decides whether that text means anything else.
func (f *WebhookFacade) HandleTextReply(ctx context.Context, chatID int64, text string) error {
	jobID, err := f.parked.JobIDForChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("resolve parked job: %w", err)
	}
	if err := f.clarify.ResumeWithClarification(ctx, jobID, text); err != nil {
		f.log.Error().Err(err).Str("job_id", jobID).Msg("resume with clarification failed")
		return err
	}
	return nil
}
