package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

// Stage handlers binding the external collaborators to the pipeline.
// Every handler checks for a prior result first so at-least-once
// re-delivery stays cheap.

// ---- webhook_received ----

type webhookReceivedHandler struct{}

// NewWebhookReceivedHandler validates the freshly ingested payload.
// Malformed payloads are not retried.
func NewWebhookReceivedHandler() StageHandler { return &webhookReceivedHandler{} }

func (h *webhookReceivedHandler) Handle(_ context.Context, p model.Payload) (model.Payload, error) {
	if p.SourceChatID == 0 {
		return p, domain.NewValidationError(errors.New("missing source chat id"))
	}
	if p.VoiceFileID == "" && p.AudioURL == "" {
		return p, domain.NewValidationError(errors.New("no voice file reference in webhook payload"))
	}
	return p, nil
}

// ---- audio_download ----

type audioDownloadHandler struct {
	messenger adapter.Messenger
}

func NewAudioDownloadHandler(m adapter.Messenger) StageHandler {
	return &audioDownloadHandler{messenger: m}
}

func (h *audioDownloadHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Audio != nil {
		return p, nil // already resolved on a prior attempt
	}
	if p.AudioURL != "" {
		p.Audio = &model.AudioRef{URL: p.AudioURL}
		return p, nil
	}
	url, err := h.messenger.VoiceFileURL(ctx, p.VoiceFileID)
	if err != nil {
		return p, domain.NewTransientError(fmt.Errorf("resolve voice file: %w", err))
	}
	p.Audio = &model.AudioRef{FileID: p.VoiceFileID, URL: url}
	return p, nil
}

// ---- transcription ----

type transcriptionHandler struct {
	transcriber adapter.Transcriber
}

func NewTranscriptionHandler(t adapter.Transcriber) StageHandler {
	return &transcriptionHandler{transcriber: t}
}

func (h *transcriptionHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Transcript != nil {
		return p, nil
	}
	if p.Audio == nil || p.Audio.URL == "" {
		return p, domain.NewValidationError(errors.New("transcription reached without an audio reference"))
	}
	tr, err := h.transcriber.Transcribe(ctx, p.Audio.URL)
	if err != nil {
		return p, err // adapter classifies
	}
	p.Transcript = &model.Transcript{Text: tr.Text, Language: tr.Language, Model: tr.Model}
	return p, nil
}

// ---- intent_analysis ----

type intentAnalysisHandler struct {
	resolver adapter.IntentResolver
}

func NewIntentAnalysisHandler(r adapter.IntentResolver) StageHandler {
	return &intentAnalysisHandler{resolver: r}
}

func (h *intentAnalysisHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Intent != nil && p.Intent.Operation != "" {
		return p, nil
	}
	if p.Transcript == nil || p.Transcript.Text == "" {
		return p, domain.NewValidationError(errors.New("empty transcript"))
	}
	op, err := h.resolver.ClassifyOperation(ctx, p.Transcript.Text)
	if err != nil {
		return p, err
	}
	switch op {
	case model.OperationCreate, model.OperationUpdate, model.OperationDelete:
	default:
		return p, domain.NewValidationError(fmt.Errorf("unrecognized intent operation %q", op))
	}
	p.Intent = &model.Intent{Operation: op}
	return p, nil
}

// ---- intent_build_context ----

type intentBuildContextHandler struct {
	counter     adapter.TokenCounter
	model       string
	tokenBudget int
	log         *zerolog.Logger
}

// NewIntentBuildContextHandler prepares the prompt context for intent
// resolution, trimming the transcript to the configured token budget.
func NewIntentBuildContextHandler(counter adapter.TokenCounter, modelName string, tokenBudget int, log *zerolog.Logger) StageHandler {
	if tokenBudget <= 0 {
		tokenBudget = 2048
	}
	return &intentBuildContextHandler{counter: counter, model: modelName, tokenBudget: tokenBudget, log: log}
}

func (h *intentBuildContextHandler) Handle(_ context.Context, p model.Payload) (model.Payload, error) {
	if p.PromptContext != "" && p.Clarification == nil {
		return p, nil
	}
	if p.Transcript == nil {
		return p, domain.NewValidationError(errors.New("context build reached without a transcript"))
	}

	text := p.Transcript.Text
	if h.counter != nil {
		for {
			n, err := h.counter.CountTokens(h.model, text)
			if err != nil {
				h.log.Warn().Err(err).Msg("token counting unavailable; using untrimmed transcript")
				break
			}
			if n <= h.tokenBudget || len(text) < 2 {
				break
			}
			text = text[:len(text)/2]
		}
	}

	ctxText := fmt.Sprintf("Voice message transcript (%s):\n%s", p.Transcript.Language, text)
	if p.Clarification != nil && p.Clarification.Reply != "" {
		ctxText += fmt.Sprintf("\nUser clarification: %s", p.Clarification.Reply)
	}
	p.PromptContext = ctxText
	return p, nil
}

// ---- intent_request ----

type intentRequestHandler struct {
	resolver adapter.IntentResolver
}

func NewIntentRequestHandler(r adapter.IntentResolver) StageHandler {
	return &intentRequestHandler{resolver: r}
}

func (h *intentRequestHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Intent != nil && p.Intent.Title != "" && !p.Intent.NeedsClarification {
		return p, nil
	}
	if p.PromptContext == "" {
		return p, domain.NewValidationError(errors.New("intent request reached without prompt context"))
	}
	draft, err := h.resolver.Resolve(ctx, p.PromptContext)
	if err != nil {
		return p, err
	}

	intent := model.Intent{
		Operation:          draft.Operation,
		Title:              draft.Title,
		EventID:            draft.EventID,
		Confidence:         draft.Confidence,
		NeedsClarification: draft.NeedsClarification,
		Question:           draft.Question,
	}
	if p.Intent != nil && intent.Operation == "" {
		intent.Operation = p.Intent.Operation
	}
	if draft.StartsAt != "" {
		ts, err := time.Parse(time.RFC3339, draft.StartsAt)
		if err != nil {
			return p, domain.NewValidationError(fmt.Errorf("model returned unparseable start time %q", draft.StartsAt))
		}
		intent.StartsAt = &ts
	}
	if draft.EndsAt != "" {
		ts, err := time.Parse(time.RFC3339, draft.EndsAt)
		if err != nil {
			return p, domain.NewValidationError(fmt.Errorf("model returned unparseable end time %q", draft.EndsAt))
		}
		intent.EndsAt = &ts
	}
	if intent.NeedsClarification && intent.Question == "" {
		intent.Question = "Could you give more details about the event?"
	}
	p.Intent = &intent
	return p, nil
}

// ---- clarification_dispatch ----

type clarificationDispatchHandler struct {
	messenger adapter.Messenger
}

func NewClarificationDispatchHandler(m adapter.Messenger) StageHandler {
	return &clarificationDispatchHandler{messenger: m}
}

func (h *clarificationDispatchHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Intent == nil || p.Intent.Question == "" {
		return p, domain.NewValidationError(errors.New("clarification dispatch without a question"))
	}
	if p.Clarification != nil && p.Clarification.Question == p.Intent.Question && p.Clarification.Reply == "" {
		return p, nil // already asked, still waiting
	}
	if err := h.messenger.AskClarification(ctx, p.SourceChatID, p.Intent.Question); err != nil {
		return p, domain.NewTransientError(fmt.Errorf("ask clarification: %w", err))
	}
	p.Clarification = &model.Clarification{Question: p.Intent.Question, AskedAt: time.Now().UTC()}
	return p, nil
}

// ---- event_create / event_update / event_delete ----

type eventMutationHandler struct {
	calendar  adapter.CalendarClient
	operation string
}

func NewEventCreateHandler(c adapter.CalendarClient) StageHandler {
	return &eventMutationHandler{calendar: c, operation: model.OperationCreate}
}

func NewEventUpdateHandler(c adapter.CalendarClient) StageHandler {
	return &eventMutationHandler{calendar: c, operation: model.OperationUpdate}
}

func NewEventDeleteHandler(c adapter.CalendarClient) StageHandler {
	return &eventMutationHandler{calendar: c, operation: model.OperationDelete}
}

func (h *eventMutationHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Event != nil {
		return p, nil // mutation already applied on a prior attempt
	}
	if p.Intent == nil {
		return p, domain.NewValidationError(errors.New("event mutation reached without a resolved intent"))
	}

	switch h.operation {
	case model.OperationCreate:
		if p.Intent.Title == "" || p.Intent.StartsAt == nil {
			return p, domain.NewValidationError(errors.New("create intent missing title or start time"))
		}
		ref, err := h.calendar.CreateEvent(ctx, detailsFromIntent(p.Intent))
		if err != nil {
			return p, err
		}
		p.Event = &model.EventResult{EventID: ref.ID, Link: ref.Link, Operation: h.operation}

	case model.OperationUpdate:
		if p.Intent.EventID == "" {
			return p, domain.NewValidationError(errors.New("update intent missing event id"))
		}
		ref, err := h.calendar.UpdateEvent(ctx, p.Intent.EventID, detailsFromIntent(p.Intent))
		if err != nil {
			return p, err
		}
		p.Event = &model.EventResult{EventID: ref.ID, Link: ref.Link, Operation: h.operation}

	case model.OperationDelete:
		if p.Intent.EventID == "" {
			return p, domain.NewValidationError(errors.New("delete intent missing event id"))
		}
		if err := h.calendar.DeleteEvent(ctx, p.Intent.EventID); err != nil {
			return p, err
		}
		p.Event = &model.EventResult{EventID: p.Intent.EventID, Operation: h.operation}
	}
	return p, nil
}

func detailsFromIntent(in *model.Intent) adapter.EventDetails {
	d := adapter.EventDetails{Title: in.Title}
	if in.StartsAt != nil {
		d.StartsAt = *in.StartsAt
	}
	if in.EndsAt != nil {
		d.EndsAt = *in.EndsAt
	} else if in.StartsAt != nil {
		d.EndsAt = in.StartsAt.Add(time.Hour)
	}
	return d
}

// ---- notification_send ----

type notificationSendHandler struct {
	messenger adapter.Messenger
}

func NewNotificationSendHandler(m adapter.Messenger) StageHandler {
	return &notificationSendHandler{messenger: m}
}

func (h *notificationSendHandler) Handle(ctx context.Context, p model.Payload) (model.Payload, error) {
	if p.Notified {
		return p, nil
	}
	if p.Event == nil {
		return p, domain.NewValidationError(errors.New("notification reached without an event result"))
	}
	text := notificationText(p.Event)
	if err := h.messenger.SendMessage(ctx, adapter.SendMessageParams{ChatID: p.SourceChatID, Text: text}); err != nil {
		return p, domain.NewTransientError(fmt.Errorf("send notification: %w", err))
	}
	p.Notified = true
	return p, nil
}

func notificationText(ev *model.EventResult) string {
	switch ev.Operation {
	case model.OperationUpdate:
		return fmt.Sprintf("Your event was updated. %s", ev.Link)
	case model.OperationDelete:
		return "Your event was deleted."
	default:
		if ev.Link != "" {
			return fmt.Sprintf("Your event was created: %s", ev.Link)
		}
		return "Your event was created."
	}
}
