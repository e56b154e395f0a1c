package model

import "time"

type DeploymentStatus string

const (
	DeploymentStatusPending   DeploymentStatus = "pending"
	DeploymentStatusBuilding  DeploymentStatus = "building"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusSuccess   DeploymentStatus = "success"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// Deployment is one row per deploy attempt. Created when the deploy job
// starts, finalized when it ends, immutable once terminal.
type Deployment struct {
	ID                 string
	ProjectID          string
	Status             DeploymentStatus
	URL                string
	RemoteDeploymentID string
	ErrorMessage       string
	CostMicros         int64
	StartedAt          time.Time
	FinishedAt         *time.Time
}

// Terminal reports whether the record may no longer be mutated.
func (d *Deployment) Terminal() bool {
	return d.Status == DeploymentStatusSuccess || d.Status == DeploymentStatusFailed
}
