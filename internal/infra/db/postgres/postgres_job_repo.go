package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.JobQueue = (*jobRepo)(nil)

// jobRepo is the durable job queue: a Postgres table claimed with
// FOR UPDATE SKIP LOCKED so one job goes to at most one worker.
type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `
id, type, payload, status, attempts, max_attempts, timeout_ms, last_error,
available_at, created_at, updated_at`

func (r *jobRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.Job) (string, error) {
	if job.ID == "" {
		// ULIDs keep claim order aligned with enqueue order.
		job.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	job.UpdatedAt = now

	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.Type, []byte(job.Payload), job.Status, job.Attempts, job.MaxAttempts,
		job.Timeout.Milliseconds(), job.LastError, job.AvailableAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("postgres: enqueueing job: %w", err)
	}
	return job.ID, nil
}

func (r *jobRepo) FetchAndMarkProcessing(ctx context.Context, jobType model.JobType) (*model.Job, error) {
	var job *model.Job

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + jobColumns + `
FROM jobs
WHERE type = $1 AND status = 'pending' AND available_at <= now()
ORDER BY id
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery, jobType)
		if err != nil {
			return err
		}

		var j model.Job
		var timeoutMs int64
		err = row.Scan(
			&j.ID, &j.Type, (*[]byte)(&j.Payload), &j.Status, &j.Attempts, &j.MaxAttempts,
			&timeoutMs, &j.LastError, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return domain.ErrReadDatabaseRow
		}
		j.Timeout = time.Duration(timeoutMs) * time.Millisecond
		j.Status = model.JobStatusProcessing

		const mark = `UPDATE jobs SET status = 'processing', updated_at = now() WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, mark, j.ID); err != nil {
			return err
		}

		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id string) error {
	const q = `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id)
	return err
}

func (r *jobRepo) Reschedule(ctx context.Context, id string, delay time.Duration, lastError string) error {
	const q = `
UPDATE jobs SET status = 'pending', attempts = attempts + 1,
  available_at = now() + $2 * interval '1 millisecond',
  last_error = $3, updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id, delay.Milliseconds(), lastError)
	return err
}

func (r *jobRepo) Defer(ctx context.Context, id string, delay time.Duration, reason string) error {
	const q = `
UPDATE jobs SET status = 'pending',
  available_at = now() + $2 * interval '1 millisecond',
  last_error = $3, updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id, delay.Milliseconds(), reason)
	return err
}

func (r *jobRepo) MarkDead(ctx context.Context, id string, lastError string) error {
	const q = `
UPDATE jobs SET status = 'dead', attempts = attempts + 1, last_error = $2, updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id, lastError)
	return err
}
