package calendar

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.CalendarClient = (*NoopClient)(nil)

// NoopClient fakes calendar mutations for local/dev runs.
type NoopClient struct {
	log *zerolog.Logger
}

func NewNoopClient(logger *zerolog.Logger) *NoopClient {
	return &NoopClient{log: logger}
}

func (n *NoopClient) CreateEvent(ctx context.Context, d adapter.EventDetails) (adapter.EventRef, error) {
	id := uuid.NewString()
	n.log.Info().Str("title", d.Title).Time("starts_at", d.StartsAt).Msg("[noop] create event")
	return adapter.EventRef{ID: id, Link: fmt.Sprintf("https://example.invalid/events/%s", id)}, nil
}

func (n *NoopClient) UpdateEvent(ctx context.Context, eventID string, d adapter.EventDetails) (adapter.EventRef, error) {
	n.log.Info().Str("event_id", eventID).Str("title", d.Title).Msg("[noop] update event")
	return adapter.EventRef{ID: eventID, Link: fmt.Sprintf("https://example.invalid/events/%s", eventID)}, nil
}

func (n *NoopClient) DeleteEvent(ctx context.Context, eventID string) error {
	n.log.Info().Str("event_id", eventID).Msg("[noop] delete event")
	return nil
}
