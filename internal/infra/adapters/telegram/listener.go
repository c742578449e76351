package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/application"
	"voice-calendar-pipeline/internal/domain"
)

// Listener polls Telegram updates and feeds them to the facade: voice
// messages start pipelines, plain text answers pending clarifications.
type Listener struct {
	bot     *tgbotapi.BotAPI
	facade  *application.WebhookFacade
	workers int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *zerolog.Logger
}

func NewListener(m *Messenger, facade *application.WebhookFacade, workers int, logger *zerolog.Logger) (*Listener, error) {
	if m == nil {
		return nil, errors.New("messenger is nil")
	}
	if facade == nil {
		return nil, errors.New("facade is nil")
	}
	if workers <= 0 {
		workers = 2
	}
	return &Listener{bot: m.bot, facade: facade, workers: workers, log: logger}, nil
}

func (l *Listener) StartPolling(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := l.bot.GetUpdatesChan(u)

	ctx, l.cancel = context.WithCancel(ctx)
	l.log.Info().Int("workers", l.workers).Msg("telegram listener started")

	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case update, ok := <-updates:
					if !ok {
						return
					}
					l.handleUpdate(ctx, update)
				}
			}
		}()
	}
}

func (l *Listener) Stop() {
	l.bot.StopReceivingUpdates()
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.log.Info().Msg("telegram listener stopped")
}

func (l *Listener) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.Voice != nil {
		// Chat id + message id is unique and stable across Telegram's
		// retry deliveries, which is exactly what idempotent ingest needs.
		messageID := fmt.Sprintf("%d:%d", chatID, msg.MessageID)
		jobID, err := l.facade.HandleVoiceMessage(ctx, messageID, chatID, msg.Voice.FileID)
		if err != nil {
			l.log.Error().Err(err).Str("message_id", messageID).Msg("voice message rejected")
			return
		}
		l.log.Info().Str("message_id", messageID).Str("job_id", jobID).Msg("voice message accepted")
		return
	}

	if msg.Text != "" {
		err := l.facade.HandleTextReply(ctx, chatID, msg.Text)
		if errors.Is(err, domain.ErrNotFound) {
			// Not a clarification reply; nothing else consumes plain text.
			return
		}
		if err != nil {
			l.log.Error().Err(err).Int64("chat_id", chatID).Msg("clarification reply failed")
		}
	}
}
