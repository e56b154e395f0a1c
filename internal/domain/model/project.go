package model

import "time"

type ProjectStatus string

const (
	ProjectStatusDraft     ProjectStatus = "draft"
	ProjectStatusBuilding  ProjectStatus = "building"
	ProjectStatusDeploying ProjectStatus = "deploying"
	ProjectStatusReady     ProjectStatus = "ready"
	ProjectStatusDeployed  ProjectStatus = "deployed"
	ProjectStatusFailed    ProjectStatus = "failed"
)

// Project is the shared row mutated by both workers and read by the UI layer.
// Status and progress are last-write-wins; there is no optimistic locking.
type Project struct {
	ID               string
	UserID           string
	Name             string
	Status           ProjectStatus
	BuildProgress    int // [-1, 100], -1 is the error sentinel
	CurrentStage     string
	AppType          string
	DeploymentURL    string
	ComputeProjectID string
	ComputeServiceID string
	RepoFullName     string // "" when the project is not linked to source control
	RepoBranch       string
	ErrorMessage     string
	Settings         ProjectSettings
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProjectSettings used to be an opaque JSON blob; the fields every writer
// actually uses are typed out so the shape can't drift silently.
type ProjectSettings struct {
	Requirements  *Requirements `json:"requirements,omitempty"`
	EnvVarsNeeded []EnvVar      `json:"env_vars_needed,omitempty"`
}

// EnvVar is an environment variable the generated app needs at runtime.
type EnvVar struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// HasRepo reports whether the project is linked to a source-control remote.
func (p *Project) HasRepo() bool { return p.RepoFullName != "" }

// AppendEnvVars merges newly needed env vars into the settings, keyed by name.
func (s *ProjectSettings) AppendEnvVars(vars []EnvVar) {
	seen := make(map[string]struct{}, len(s.EnvVarsNeeded))
	for _, v := range s.EnvVarsNeeded {
		seen[v.Key] = struct{}{}
	}
	for _, v := range vars {
		if _, ok := seen[v.Key]; ok {
			continue
		}
		s.EnvVarsNeeded = append(s.EnvVarsNeeded, v)
		seen[v.Key] = struct{}{}
	}
}
