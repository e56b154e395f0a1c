package repository

import (
	"context"

	"appforge/internal/domain/model"
)

type DeploymentRepository interface {
	Create(ctx context.Context, tx Tx, d *model.Deployment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Deployment, error)
	FindLatestByProject(ctx context.Context, tx Tx, projectID string) (*model.Deployment, error)

	// Finalize writes the terminal status exactly once; a second call against
	// a terminal row is a no-op.
	Finalize(ctx context.Context, tx Tx, d *model.Deployment) error
}

type DomainMappingRepository interface {
	Create(ctx context.Context, tx Tx, m *model.DomainMapping) error
	FindPrimaryByProject(ctx context.Context, tx Tx, projectID string) (*model.DomainMapping, error)
	SlugExists(ctx context.Context, tx Tx, slug string) (bool, error)
	UpdateTarget(ctx context.Context, tx Tx, id, targetURL string) error
	Delete(ctx context.Context, tx Tx, id string) error
}

// UsageLogRepository records per-deploy cost entries for billing roll-ups.
type UsageLogRepository interface {
	RecordDeployCost(ctx context.Context, tx Tx, projectID, deploymentID string, costMicros int64) error
}
