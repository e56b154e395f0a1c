package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.SecretRepository = (*secretRepo)(nil)

type secretRepo struct {
	pool *pgxpool.Pool
}

func NewSecretRepo(pool *pgxpool.Pool) *secretRepo {
	return &secretRepo{pool: pool}
}

func (r *secretRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string) ([]model.ProjectSecret, error) {
	const q = `
SELECT project_id, key, cipher_text, created_at
FROM project_secrets WHERE project_id = $1 ORDER BY key;`
	rows, err := queryRows(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProjectSecret
	for rows.Next() {
		var s model.ProjectSecret
		if err := rows.Scan(&s.ProjectID, &s.Key, &s.CipherText, &s.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
