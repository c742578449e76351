package adapter

import "context"

// Transcription is the speech-to-text result for one audio file.
type Transcription struct {
	Text     string
	Language string
	Model    string
}

// Transcriber is the port for the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (Transcription, error)
}

// IntentDraft is the language model's reading of a transcript. Times are
// RFC 3339 strings as returned by the model; the stage handler parses them.
type IntentDraft struct {
	Operation          string  `json:"operation"`
	Title              string  `json:"title,omitempty"`
	StartsAt           string  `json:"starts_at,omitempty"`
	EndsAt             string  `json:"ends_at,omitempty"`
	EventID            string  `json:"event_id,omitempty"`
	Confidence         float64 `json:"confidence,omitempty"`
	NeedsClarification bool    `json:"needs_clarification,omitempty"`
	Question           string  `json:"question,omitempty"`
}

// IntentResolver is the port for the language-model collaborator.
type IntentResolver interface {
	// ClassifyOperation does a cheap first pass: create, update or delete.
	ClassifyOperation(ctx context.Context, transcript string) (string, error)
	// Resolve extracts the full intent from the prepared prompt context.
	Resolve(ctx context.Context, promptContext string) (IntentDraft, error)
}

// TokenCounter bounds prompt context size (provider-specific counting;
// best-effort when exact isn't available).
type TokenCounter interface {
	CountTokens(model string, text string) (int, error)
}
