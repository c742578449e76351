package adapter

import (
	"context"
	"time"
)

// EventDetails describes a calendar event mutation.
type EventDetails struct {
	Title       string
	StartsAt    time.Time
	EndsAt      time.Time
	Description string
}

// EventRef identifies a calendar event after a successful mutation.
type EventRef struct {
	ID   string
	Link string
}

// CalendarClient is the port for the calendar-provider collaborator.
// Implementations classify failures: 4xx validation / gone-forever
// conditions surface as permanent errors, timeouts and 5xx as transient.
type CalendarClient interface {
	CreateEvent(ctx context.Context, d EventDetails) (EventRef, error)
	UpdateEvent(ctx context.Context, eventID string, d EventDetails) (EventRef, error)
	DeleteEvent(ctx context.Context, eventID string) error
}
