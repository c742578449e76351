package ai

import (
	"context"
	"time"

	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.Transcriber    = (*NoopTranscriber)(nil)
	_ adapter.IntentResolver = (*NoopIntentResolver)(nil)
)

// NoopTranscriber returns a canned transcript for local/dev runs without
// real provider credentials.
type NoopTranscriber struct{}

func NewNoopTranscriber() *NoopTranscriber { return &NoopTranscriber{} }

func (n *NoopTranscriber) Transcribe(ctx context.Context, audioURL string) (adapter.Transcription, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return adapter.Transcription{}, ctx.Err()
	}
	return adapter.Transcription{
		Text:  "schedule lunch with the team tomorrow at noon",
		Model: "noop",
	}, nil
}

// NoopIntentResolver always produces a confident create intent one hour out.
type NoopIntentResolver struct{}

func NewNoopIntentResolver() *NoopIntentResolver { return &NoopIntentResolver{} }

func (n *NoopIntentResolver) ClassifyOperation(ctx context.Context, transcript string) (string, error) {
	return "create", nil
}

func (n *NoopIntentResolver) Resolve(ctx context.Context, promptContext string) (adapter.IntentDraft, error) {
	starts := time.Now().Add(time.Hour).UTC()
	return adapter.IntentDraft{
		Operation:  "create",
		Title:      "Team lunch",
		StartsAt:   starts.Format(time.RFC3339),
		EndsAt:     starts.Add(time.Hour).Format(time.RFC3339),
		Confidence: 0.99,
	}, nil
}
