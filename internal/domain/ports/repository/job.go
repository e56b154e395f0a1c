package repository

import (
	"context"
	"time"

	"appforge/internal/domain/model"
)

// JobQueue is the durable at-least-once work queue. A worker claims one job
// at a time per queue type and must either complete it or report the failure
// so the queue can apply its retry policy.
type JobQueue interface {
	Enqueue(ctx context.Context, tx Tx, job *model.Job) (string, error)

	// FetchAndMarkProcessing atomically claims the oldest due pending job of
	// the given type and marks it processing, so no other worker can pick it
	// up. Returns domain.ErrNotFound when no job is due.
	FetchAndMarkProcessing(ctx context.Context, jobType model.JobType) (*model.Job, error)

	MarkCompleted(ctx context.Context, id string) error

	// Reschedule re-delivers a failed job after delay with attempts+1.
	Reschedule(ctx context.Context, id string, delay time.Duration, lastError string) error

	// Defer re-delivers a job whose handler never ran (lock contention,
	// infrastructure trouble) without touching the attempt count.
	Defer(ctx context.Context, id string, delay time.Duration, reason string) error

	// MarkDead parks a job that exhausted its attempts.
	MarkDead(ctx context.Context, id string, lastError string) error
}
