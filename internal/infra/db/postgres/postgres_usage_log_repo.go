package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain/ports/repository"
)

var _ repository.UsageLogRepository = (*usageLogRepo)(nil)

type usageLogRepo struct {
	pool *pgxpool.Pool
}

func NewUsageLogRepo(pool *pgxpool.Pool) *usageLogRepo {
	return &usageLogRepo{pool: pool}
}

func (r *usageLogRepo) RecordDeployCost(ctx context.Context, tx repository.Tx, projectID, deploymentID string, costMicros int64) error {
	const q = `
INSERT INTO usage_log (id, project_id, deployment_id, kind, cost_micros, created_at)
VALUES ($1, $2, $3, 'deploy', $4, $5);`
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), projectID, deploymentID, costMicros, time.Now())
	if err != nil {
		return fmt.Errorf("postgres: recording deploy cost: %w", err)
	}
	return nil
}
