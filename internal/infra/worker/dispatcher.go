package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/logging"
	"appforge/internal/infra/metrics"
	"appforge/internal/infra/progress"
	"appforge/internal/infra/redis"
)

// Handler processes claimed jobs of one type.
type Handler interface {
	Type() model.JobType

	// ProjectID extracts the owning project from the payload; the dispatcher
	// serializes jobs per project with it.
	ProjectID(job *model.Job) (string, error)

	Handle(ctx context.Context, job *model.Job) error
}

// Extra slack over the job timeout so the advisory lock outlives a handler
// that runs right up to its deadline.
const lockSlack = 30 * time.Second

// Dispatcher polls one queue type, claims jobs, serializes them per project
// with a Redis advisory lock and applies the retry policy on failure.
// Delivery is at-least-once; handlers are responsible for being idempotent.
type Dispatcher struct {
	queue    repository.JobQueue
	projects repository.ProjectRepository
	locker   redis.Locker
	bus      *progress.Broadcaster
	handler  Handler
	log      *zerolog.Logger

	pollInterval       time.Duration
	defaultTimeout     time.Duration
	retryBaseDelay     time.Duration
	defaultMaxAttempts int
}

func NewDispatcher(
	queue repository.JobQueue,
	projects repository.ProjectRepository,
	locker redis.Locker,
	bus *progress.Broadcaster,
	handler Handler,
	pollInterval, defaultTimeout, retryBaseDelay time.Duration,
	defaultMaxAttempts int,
	log *zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:              queue,
		projects:           projects,
		locker:             locker,
		bus:                bus,
		handler:            handler,
		log:                log,
		pollInterval:       pollInterval,
		defaultTimeout:     defaultTimeout,
		retryBaseDelay:     retryBaseDelay,
		defaultMaxAttempts: defaultMaxAttempts,
	}
}

// Start polls until ctx is cancelled, handing claimed jobs to the pool.
// Run in a goroutine.
func (d *Dispatcher) Start(ctx context.Context, pool *Pool) {
	d.log.Info().Str("type", string(d.handler.Type())).Msg("dispatcher started")
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Str("type", string(d.handler.Type())).Msg("dispatcher stopping")
			return
		case <-ticker.C:
			if err := pool.Submit(func(ctx context.Context) error {
				d.processOne(ctx)
				return nil
			}); err != nil && !errors.Is(err, ErrPoolSaturated) {
				d.log.Error().Err(err).Msg("submitting job task")
			}
		}
	}
}

func (d *Dispatcher) processOne(ctx context.Context) {
	job, err := d.queue.FetchAndMarkProcessing(ctx, d.handler.Type())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			d.log.Error().Err(err).Str("type", string(d.handler.Type())).Msg("fetching job")
		}
		return
	}

	projectID, err := d.handler.ProjectID(job)
	if err != nil {
		// Unparseable payload can never succeed; park it immediately.
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("invalid job payload")
		_ = d.queue.MarkDead(ctx, job.ID, "invalid payload: "+err.Error())
		metrics.IncJob(string(job.Type), "dead")
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	// The handler never ran on either lock path, so neither consumes the
	// retry budget: a job parked behind a long build is contention, not
	// failure.
	token, err := d.locker.TryLock(ctx, "lock:project:"+projectID, timeout+lockSlack)
	if err != nil {
		if errors.Is(err, domain.ErrProjectBusy) {
			d.log.Debug().Str("job_id", job.ID).Str("project_id", projectID).
				Msg("project busy, deferring")
			d.deferJob(ctx, job, domain.ErrProjectBusy)
			return
		}
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("acquiring project lock")
		d.deferJob(ctx, job, err)
		return
	}
	defer func() {
		if err := d.locker.Unlock(context.Background(), "lock:project:"+projectID, token); err != nil {
			d.log.Warn().Err(err).Str("project_id", projectID).Msg("releasing project lock")
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	jobCtx = logging.WithJobID(logging.WithProjectID(jobCtx, projectID), job.ID)
	log := logging.With(jobCtx, d.log)

	log.Info().Str("type", string(job.Type)).Int("attempt", job.Attempts+1).Msg("job claimed")
	start := time.Now()
	handleErr := d.handler.Handle(jobCtx, job)
	elapsed := time.Since(start)
	metrics.ObserveJobDuration(string(job.Type), elapsed.Seconds())

	if handleErr == nil {
		if err := d.queue.MarkCompleted(context.Background(), job.ID); err != nil {
			log.Error().Err(err).Msg("acking job")
		}
		metrics.IncJob(string(job.Type), "completed")
		log.Info().Dur("duration", elapsed).Msg("job completed")
		return
	}

	if errors.Is(handleErr, context.DeadlineExceeded) {
		handleErr = domain.ErrJobTimeout
	}
	log.Error().Err(handleErr).Dur("duration", elapsed).Msg("job failed")

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.defaultMaxAttempts
	}
	if job.Attempts+1 >= maxAttempts {
		d.markDead(context.Background(), job, projectID, handleErr)
		return
	}
	d.reschedule(context.Background(), job, handleErr)
}

func (d *Dispatcher) reschedule(ctx context.Context, job *model.Job, cause error) {
	delay := job.NextDelay(d.retryBaseDelay)
	if err := d.queue.Reschedule(ctx, job.ID, delay, cause.Error()); err != nil {
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("rescheduling job")
		return
	}
	metrics.IncJob(string(job.Type), "rescheduled")
}

func (d *Dispatcher) deferJob(ctx context.Context, job *model.Job, cause error) {
	if err := d.queue.Defer(ctx, job.ID, d.retryBaseDelay, cause.Error()); err != nil {
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("deferring job")
		return
	}
	metrics.IncJob(string(job.Type), "deferred")
}

// markDead parks the job and surfaces the exhaustion as a terminal project
// failure; the queue itself never touches project state.
func (d *Dispatcher) markDead(ctx context.Context, job *model.Job, projectID string, cause error) {
	if err := d.queue.MarkDead(ctx, job.ID, cause.Error()); err != nil {
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("parking dead job")
	}
	metrics.IncJob(string(job.Type), "dead")

	if err := d.projects.UpdateStatus(ctx, nil, projectID, model.ProjectStatusFailed, model.ErrorProgress, "failed"); err != nil {
		d.log.Error().Err(err).Str("project_id", projectID).Msg("recording terminal failure")
	}
	if err := d.projects.SetError(ctx, nil, projectID, cause.Error()); err != nil {
		d.log.Error().Err(err).Str("project_id", projectID).Msg("recording terminal error message")
	}
	d.bus.Emit(projectID, model.ErrorProgress, "failed", cause.Error())
}
