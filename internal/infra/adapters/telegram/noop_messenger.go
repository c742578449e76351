package telegram

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Messenger = (*NoopMessenger)(nil)

// NoopMessenger logs instead of talking to Telegram, for local/dev runs.
type NoopMessenger struct {
	log *zerolog.Logger
}

func NewNoopMessenger(logger *zerolog.Logger) *NoopMessenger {
	return &NoopMessenger{log: logger}
}

func (n *NoopMessenger) SendMessage(ctx context.Context, p adapter.SendMessageParams) error {
	n.log.Info().Int64("chat_id", p.ChatID).Str("text", p.Text).Msg("[noop] send message")
	return nil
}

func (n *NoopMessenger) AskClarification(ctx context.Context, chatID int64, question string) error {
	n.log.Info().Int64("chat_id", chatID).Str("question", question).Msg("[noop] ask clarification")
	return nil
}

func (n *NoopMessenger) VoiceFileURL(ctx context.Context, fileID string) (string, error) {
	return fmt.Sprintf("https://example.invalid/voice/%s.oga", fileID), nil
}
