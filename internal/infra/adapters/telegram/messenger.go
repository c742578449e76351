package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Messenger = (*Messenger)(nil)

// Messenger implements adapter.Messenger over the Telegram Bot API.
type Messenger struct {
	bot *tgbotapi.BotAPI
}

func NewMessenger(token string) (*Messenger, error) {
	if token == "" {
		return nil, errors.New("telegram token empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Messenger{bot: bot}, nil
}

func (m *Messenger) SendMessage(ctx context.Context, p adapter.SendMessageParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(p.ChatID, p.Text)
	if _, err := m.bot.Send(msg); err != nil {
		return classifyBotError("send message", err)
	}
	return nil
}

func (m *Messenger) AskClarification(ctx context.Context, chatID int64, question string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, question)
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true}
	if _, err := m.bot.Send(msg); err != nil {
		return classifyBotError("ask clarification", err)
	}
	return nil
}

func (m *Messenger) VoiceFileURL(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := m.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", classifyBotError("get file", err)
	}
	return f.Link(m.bot.Token), nil
}

// classifyBotError maps Telegram API errors onto failure classes. A 4xx
// (bad file id, blocked bot) repeats identically on retry; rate limits and
// server errors do not.
func classifyBotError(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("%s: telegram %d: %w", op, apiErr.Code, err)
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return domain.NewTransientError(wrapped)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return domain.NewPermanentError(wrapped)
		default:
			return domain.NewTransientError(wrapped)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
