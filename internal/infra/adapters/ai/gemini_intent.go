package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.IntentResolver = (*GeminiIntentResolver)(nil)

// GeminiIntentResolver implements adapter.IntentResolver using the official
// Gemini SDK.
type GeminiIntentResolver struct {
	client *genai.Client
	model  string
}

func NewGeminiIntentResolver(ctx context.Context, apiKey, model string) (*GeminiIntentResolver, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiIntentResolver{client: c, model: model}, nil
}

func (g *GeminiIntentResolver) ClassifyOperation(ctx context.Context, transcript string) (string, error) {
	reply, err := g.generate(ctx, classifySystemPrompt+"\n\nTranscript:\n"+transcript, "")
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(reply)), nil
}

func (g *GeminiIntentResolver) Resolve(ctx context.Context, promptContext string) (adapter.IntentDraft, error) {
	reply, err := g.generate(ctx, resolveSystemPrompt+"\n\n"+promptContext, "application/json")
	if err != nil {
		return adapter.IntentDraft{}, err
	}
	return parseIntentDraft(reply)
}

func (g *GeminiIntentResolver) generate(ctx context.Context, prompt, mimeType string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if mimeType != "" {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: mimeType}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: empty response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
