package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO jobs (id, message_id, stage, status, attempt, max_attempts, payload, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.MessageID, job.Stage, job.Status, job.Attempt, job.MaxAttempts,
		payload, job.LastError, job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err) {
		// The partial unique index on live jobs caught a duplicate webhook.
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	const q = `
INSERT INTO jobs (id, message_id, stage, status, attempt, max_attempts, payload, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  stage = EXCLUDED.stage,
  status = EXCLUDED.status,
  attempt = EXCLUDED.attempt,
  payload = EXCLUDED.payload,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.MessageID, job.Stage, job.Status, job.Attempt, job.MaxAttempts,
		payload, job.LastError, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const jobColumns = `id, message_id, stage, status, attempt, max_attempts, payload, last_error, created_at, updated_at`

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindActiveByMessageID(ctx context.Context, tx repository.Tx, messageID string) (*model.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE message_id = $1 AND status IN ('active', 'awaiting_clarification')
LIMIT 1`
	row, err := pickRow(ctx, r.pool, tx, q, messageID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job     model.Job
		stage   string
		status  string
		payload []byte
	)
	err := row.Scan(&job.ID, &job.MessageID, &stage, &status, &job.Attempt, &job.MaxAttempts,
		&payload, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.Stage = model.Stage(stage)
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &job, nil
}
