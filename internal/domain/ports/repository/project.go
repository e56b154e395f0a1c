package repository

import (
	"context"

	"appforge/internal/domain/model"
)

type ProjectRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Project, error)
	Save(ctx context.Context, tx Tx, p *model.Project) error

	// UpdateStatus writes status/progress/stage in one statement; last write
	// wins by design.
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.ProjectStatus, progress int, stage string) error

	// SetError records a human-readable failure so it is diagnosable from
	// stored state, not only from logs.
	SetError(ctx context.Context, tx Tx, id string, message string) error
	ClearError(ctx context.Context, tx Tx, id string) error

	SetComputeIDs(ctx context.Context, tx Tx, id, computeProjectID, computeServiceID string) error
	SetDeploymentURL(ctx context.Context, tx Tx, id, url string) error
	SaveSettings(ctx context.Context, tx Tx, id string, s model.ProjectSettings) error
}
