package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Transcriber = (*WhisperTranscriber)(nil)

// WhisperTranscriber implements adapter.Transcriber over the OpenAI audio
// transcription endpoint. The audio file is streamed from its source URL
// straight into the API request.
type WhisperTranscriber struct {
	client openai.Client
	model  string
	http   *http.Client
}

func NewWhisperTranscriber(apiKey, baseURL, model string) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "whisper-1"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &WhisperTranscriber{
		client: openai.NewClient(opts...),
		model:  model,
		http:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioURL string) (adapter.Transcription, error) {
	if audioURL == "" {
		return adapter.Transcription{}, domain.NewValidationError(errors.New("empty audio url"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return adapter.Transcription{}, domain.NewValidationError(fmt.Errorf("bad audio url: %w", err))
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return adapter.Transcription{}, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		// Messenger file URLs expire; a 4xx will never succeed on retry.
		err := fmt.Errorf("fetch audio: http %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return adapter.Transcription{}, domain.NewPermanentError(err)
		}
		return adapter.Transcription{}, err
	}

	out, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  resp.Body,
		Model: openai.AudioModel(w.model),
	})
	if err != nil {
		return adapter.Transcription{}, classifyAPIError("transcribe", err)
	}
	if out.Text == "" {
		return adapter.Transcription{}, domain.NewPermanentError(errors.New("empty transcription"))
	}
	return adapter.Transcription{Text: out.Text, Model: w.model}, nil
}

// classifyAPIError maps provider HTTP status codes onto failure classes:
// rate limits and server errors stay retryable, the rest of the 4xx range
// will fail the same way every time.
func classifyAPIError(op string, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		wrapped := fmt.Errorf("%s: http %d: %w", op, apierr.StatusCode, err)
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return domain.NewTransientError(wrapped)
		case apierr.StatusCode >= 400 && apierr.StatusCode < 500:
			return domain.NewPermanentError(wrapped)
		default:
			return domain.NewTransientError(wrapped)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
