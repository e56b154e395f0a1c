package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.ProjectRepository = (*projectRepo)(nil)

type projectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *projectRepo {
	return &projectRepo{pool: pool}
}

const projectColumns = `
id, user_id, name, status, build_progress, current_stage, app_type,
deployment_url, compute_project_id, compute_service_id, repo_full_name,
repo_branch, error_message, settings, created_at, updated_at`

func (r *projectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	q := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	var p model.Project
	var settingsJSON []byte
	err = row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Status, &p.BuildProgress, &p.CurrentStage, &p.AppType,
		&p.DeploymentURL, &p.ComputeProjectID, &p.ComputeServiceID, &p.RepoFullName,
		&p.RepoBranch, &p.ErrorMessage, &settingsJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: querying project: %w", err)
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &p.Settings); err != nil {
			return nil, fmt.Errorf("postgres: decoding project settings: %w", err)
		}
	}
	return &p, nil
}

func (r *projectRepo) Save(ctx context.Context, tx repository.Tx, p *model.Project) error {
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("postgres: encoding project settings: %w", err)
	}
	p.UpdatedAt = time.Now()

	const q = `
INSERT INTO projects (` + projectColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  status = EXCLUDED.status,
  build_progress = EXCLUDED.build_progress,
  current_stage = EXCLUDED.current_stage,
  app_type = EXCLUDED.app_type,
  deployment_url = EXCLUDED.deployment_url,
  compute_project_id = EXCLUDED.compute_project_id,
  compute_service_id = EXCLUDED.compute_service_id,
  repo_full_name = EXCLUDED.repo_full_name,
  repo_branch = EXCLUDED.repo_branch,
  error_message = EXCLUDED.error_message,
  settings = EXCLUDED.settings,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.Name, p.Status, p.BuildProgress, p.CurrentStage, p.AppType,
		p.DeploymentURL, p.ComputeProjectID, p.ComputeServiceID, p.RepoFullName,
		p.RepoBranch, p.ErrorMessage, settingsJSON, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: saving project: %w", err)
	}
	return nil
}

func (r *projectRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.ProjectStatus, progress int, stage string) error {
	const q = `
UPDATE projects SET status = $2, build_progress = $3, current_stage = $4, updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, status, progress, stage)
	if err != nil {
		return fmt.Errorf("postgres: updating project status: %w", err)
	}
	return nil
}

func (r *projectRepo) SetError(ctx context.Context, tx repository.Tx, id, message string) error {
	const q = `UPDATE projects SET error_message = $2, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, message)
	return err
}

func (r *projectRepo) ClearError(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE projects SET error_message = '', updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	return err
}

func (r *projectRepo) SetComputeIDs(ctx context.Context, tx repository.Tx, id, computeProjectID, computeServiceID string) error {
	const q = `
UPDATE projects SET compute_project_id = $2, compute_service_id = $3, updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, computeProjectID, computeServiceID)
	return err
}

func (r *projectRepo) SetDeploymentURL(ctx context.Context, tx repository.Tx, id, url string) error {
	const q = `UPDATE projects SET deployment_url = $2, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, url)
	return err
}

func (r *projectRepo) SaveSettings(ctx context.Context, tx repository.Tx, id string, s model.ProjectSettings) error {
	settingsJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("postgres: encoding project settings: %w", err)
	}
	const q = `UPDATE projects SET settings = $2, updated_at = now() WHERE id = $1;`
	_, err = execSQL(ctx, r.pool, tx, q, id, settingsJSON)
	return err
}
