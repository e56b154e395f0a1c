package adapter

import "context"

// DeployStatus is the normalized status set every compute vendor must be
// mapped onto.
type DeployStatus string

const (
	DeployStatusQueued   DeployStatus = "queued"
	DeployStatusBuilding DeployStatus = "building"
	DeployStatusSuccess  DeployStatus = "success"
	DeployStatusFailed   DeployStatus = "failed"
	DeployStatusCrashed  DeployStatus = "crashed"
	DeployStatusTimeout  DeployStatus = "timeout"
)

type Service struct {
	ID            string
	EnvironmentID string
}

type StatusReport struct {
	Status       DeployStatus
	URL          string
	DeploymentID string
}

// ComputeAdapter is the abstract contract any compute/deploy vendor must
// satisfy. Callers wrap every method with the resilience layer.
type ComputeAdapter interface {
	CreateProject(ctx context.Context, name string) (projectID string, err error)
	CreateService(ctx context.Context, projectID, name string) (Service, error)
	ResolveEnvironment(ctx context.Context, projectID string) (environmentID string, err error)
	SetEnvVars(ctx context.Context, projectID, environmentID, serviceID string, vars map[string]string) error
	ConnectSourceRepo(ctx context.Context, projectID, serviceID, repoFullName, branch string) error
	TriggerDeploy(ctx context.Context, projectID, serviceID, environmentID string) error
	AllocateDomain(ctx context.Context, serviceID, environmentID string) (url string, err error)
	GetStatus(ctx context.Context, projectID, serviceID string) (StatusReport, error)
}
