package adapter

import "context"

// SendMessageParams carries one outbound user-facing message.
type SendMessageParams struct {
	ChatID int64
	Text   string
}

// Messenger is the port for the messaging-provider collaborator: it
// resolves voice-file URLs, delivers notifications, and asks the end
// user clarification questions.
type Messenger interface {
	SendMessage(ctx context.Context, p SendMessageParams) error
	AskClarification(ctx context.Context, chatID int64, question string) error
	// VoiceFileURL resolves a provider file id to a fetchable URL.
	VoiceFileURL(ctx context.Context, fileID string) (string, error)
}
