package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.DomainMappingRepository = (*domainMappingRepo)(nil)

type domainMappingRepo struct {
	pool *pgxpool.Pool
}

func NewDomainMappingRepo(pool *pgxpool.Pool) *domainMappingRepo {
	return &domainMappingRepo{pool: pool}
}

func (r *domainMappingRepo) Create(ctx context.Context, tx repository.Tx, m *model.DomainMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	const q = `
INSERT INTO domain_mappings (id, project_id, domain_type, slug, target_url, ssl_status, is_primary, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		m.ID, m.ProjectID, m.DomainType, m.Slug, m.TargetURL, m.SSLStatus, m.IsPrimary, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation on slug
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: creating domain mapping: %w", err)
	}
	return nil
}

func (r *domainMappingRepo) FindPrimaryByProject(ctx context.Context, tx repository.Tx, projectID string) (*model.DomainMapping, error) {
	const q = `
SELECT id, project_id, domain_type, slug, target_url, ssl_status, is_primary, created_at, updated_at
FROM domain_mappings
WHERE project_id = $1 AND is_primary
LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	var m model.DomainMapping
	err = row.Scan(&m.ID, &m.ProjectID, &m.DomainType, &m.Slug, &m.TargetURL, &m.SSLStatus, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &m, nil
}

func (r *domainMappingRepo) SlugExists(ctx context.Context, tx repository.Tx, slug string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM domain_mappings WHERE slug = $1);`
	row, err := pickRow(ctx, r.pool, tx, q, slug)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *domainMappingRepo) UpdateTarget(ctx context.Context, tx repository.Tx, id, targetURL string) error {
	const q = `UPDATE domain_mappings SET target_url = $2, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, targetURL)
	return err
}

func (r *domainMappingRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	const q = `DELETE FROM domain_mappings WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	return err
}
