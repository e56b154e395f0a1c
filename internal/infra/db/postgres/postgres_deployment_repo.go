package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.DeploymentRepository = (*deploymentRepo)(nil)

type deploymentRepo struct {
	pool *pgxpool.Pool
}

func NewDeploymentRepo(pool *pgxpool.Pool) *deploymentRepo {
	return &deploymentRepo{pool: pool}
}

const deploymentColumns = `
id, project_id, status, url, remote_deployment_id, error_message, cost_micros,
started_at, finished_at`

func (r *deploymentRepo) Create(ctx context.Context, tx repository.Tx, d *model.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	const q = `
INSERT INTO deployments (` + deploymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		d.ID, d.ProjectID, d.Status, d.URL, d.RemoteDeploymentID, d.ErrorMessage,
		d.CostMicros, d.StartedAt, d.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: creating deployment: %w", err)
	}
	return nil
}

func (r *deploymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Deployment, error) {
	q := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1;`
	return r.scanOne(ctx, tx, q, id)
}

func (r *deploymentRepo) FindLatestByProject(ctx context.Context, tx repository.Tx, projectID string) (*model.Deployment, error) {
	q := `SELECT ` + deploymentColumns + ` FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT 1;`
	return r.scanOne(ctx, tx, q, projectID)
}

func (r *deploymentRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Deployment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var d model.Deployment
	err = row.Scan(
		&d.ID, &d.ProjectID, &d.Status, &d.URL, &d.RemoteDeploymentID, &d.ErrorMessage,
		&d.CostMicros, &d.StartedAt, &d.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &d, nil
}

// Finalize writes the terminal status once; rows already terminal are left
// untouched so the record stays immutable.
func (r *deploymentRepo) Finalize(ctx context.Context, tx repository.Tx, d *model.Deployment) error {
	now := time.Now()
	d.FinishedAt = &now
	const q = `
UPDATE deployments SET status = $2, url = $3, remote_deployment_id = $4,
  error_message = $5, cost_micros = $6, finished_at = $7
WHERE id = $1 AND status NOT IN ('success', 'failed');`
	_, err := execSQL(ctx, r.pool, tx, q,
		d.ID, d.Status, d.URL, d.RemoteDeploymentID, d.ErrorMessage, d.CostMicros, d.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: finalizing deployment: %w", err)
	}
	return nil
}
