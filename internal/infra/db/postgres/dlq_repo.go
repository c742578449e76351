package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
)

var _ repository.DeadLetterRepository = (*dlqRepo)(nil)

type dlqRepo struct {
	pool *pgxpool.Pool
}

func NewDLQRepo(pool *pgxpool.Pool) *dlqRepo {
	return &dlqRepo{pool: pool}
}

// Add freezes the job at its final failure. Entry ids are ULIDs so the
// operator listing sorts by failure time without a secondary column.
// Idempotent on job id: a re-delivered move for the same job is a no-op.
func (r *dlqRepo) Add(ctx context.Context, tx repository.Tx, job model.Job, cause string) error {
	frozen, err := json.Marshal(job)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO dlq_entries (id, job_id, message_id, stage, attempt, job, cause, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (job_id) DO NOTHING`

	_, err = execSQL(ctx, r.pool, tx, q,
		ulid.Make().String(), job.ID, job.MessageID, job.Stage, job.Attempt,
		frozen, cause, time.Now().UTC())
	return err
}

const dlqColumns = `id, job, cause, failed_at`

func (r *dlqRepo) List(ctx context.Context, tx repository.Tx, f repository.DLQFilter) ([]*repository.DeadLetterEntry, error) {
	q := `SELECT ` + dlqColumns + ` FROM dlq_entries WHERE 1=1`
	args := []interface{}{}
	if f.Stage != "" {
		args = append(args, string(f.Stage))
		q += ` AND stage = $1`
	}
	if f.MessageID != "" {
		args = append(args, f.MessageID)
		q += ` AND message_id = $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *dlqRepo) FindByID(ctx context.Context, tx repository.Tx, entryID string) (*repository.DeadLetterEntry, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+dlqColumns+` FROM dlq_entries WHERE id = $1`, entryID)
	if err != nil {
		return nil, err
	}
	return scanDLQEntry(row)
}

func (r *dlqRepo) Delete(ctx context.Context, tx repository.Tx, entryID string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM dlq_entries WHERE id = $1`, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *dlqRepo) PurgeOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM dlq_entries WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *dlqRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM dlq_entries`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func scanDLQEntry(row pgx.Row) (*repository.DeadLetterEntry, error) {
	var (
		entry  repository.DeadLetterEntry
		frozen []byte
	)
	err := row.Scan(&entry.ID, &frozen, &entry.Cause, &entry.FailedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(frozen, &entry.Job); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &entry, nil
}
