package repository

import (
	"context"

	"voice-calendar-pipeline/internal/domain/model"
)

// ClarificationStore parks jobs awaiting a human reply. A parked job
// occupies no worker slot and no timed retry slot; it re-enters the
// primary queue only through an explicit resume call.
type ClarificationStore interface {
	Park(ctx context.Context, job model.Job) error
	// Take removes and returns the parked job, or domain.ErrNotFound.
	Take(ctx context.Context, jobID string) (*model.Job, error)
	// JobIDForChat resolves which parked job a chat's reply belongs to,
	// or domain.ErrNotFound when nothing is parked for that chat.
	JobIDForChat(ctx context.Context, chatID int64) (string, error)
	Count(ctx context.Context) (int, error)
}
