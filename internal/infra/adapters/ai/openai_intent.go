package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.IntentResolver = (*OpenAIIntentResolver)(nil)

const classifySystemPrompt = `You classify voice-message transcripts about calendar changes.
Reply with exactly one word: create, update or delete.`

const resolveSystemPrompt = `You extract calendar event intents from transcripts.
Reply with a single JSON object and nothing else, using these fields:
operation (create|update|delete), title, starts_at (RFC 3339), ends_at (RFC 3339),
event_id, confidence (0..1), needs_clarification (bool), question.
Set needs_clarification and question when the transcript is ambiguous.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIIntentResolver implements adapter.IntentResolver using the Chat
// Completions API. Works against any OpenAI-compatible base URL.
type OpenAIIntentResolver struct {
	apiKey string
	base   string
	model  string
	client *http.Client
}

func NewOpenAIIntentResolver(apiKey, baseURL, model string) (*OpenAIIntentResolver, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIIntentResolver{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (o *OpenAIIntentResolver) ClassifyOperation(ctx context.Context, transcript string) (string, error) {
	reply, err := o.chat(ctx, []chatMessage{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: transcript},
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(reply)), nil
}

func (o *OpenAIIntentResolver) Resolve(ctx context.Context, promptContext string) (adapter.IntentDraft, error) {
	reply, err := o.chat(ctx, []chatMessage{
		{Role: "system", Content: resolveSystemPrompt},
		{Role: "user", Content: promptContext},
	})
	if err != nil {
		return adapter.IntentDraft{}, err
	}
	return parseIntentDraft(reply)
}

func (o *OpenAIIntentResolver) chat(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{Model: o.model, Messages: messages}

	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("openai http %d", resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", domain.NewTransientError(err)
		case resp.StatusCode < 500:
			return "", domain.NewPermanentError(err)
		default:
			return "", domain.NewTransientError(err)
		}
	}

	var payload struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", errors.New("no choice content")
}

// parseIntentDraft tolerates the code fences models wrap JSON in.
func parseIntentDraft(reply string) (adapter.IntentDraft, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var draft adapter.IntentDraft
	if err := json.Unmarshal([]byte(cleaned), &draft); err != nil {
		return adapter.IntentDraft{}, domain.NewTransientError(fmt.Errorf("unparseable intent reply: %w", err))
	}
	return draft, nil
}
