package adapter

import (
	"context"

	"appforge/internal/domain/model"
)

// GeneratedFile is a single file produced by the code generation service.
type GeneratedFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// FileChange is one entry of an iteration change-set.
type FileChange struct {
	Action   string `json:"action"` // "upsert" | "delete"
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// IterateResult is the outcome of one iteration request.
type IterateResult struct {
	Changes       []FileChange   `json:"changes"`
	Summary       string         `json:"summary"`
	EnvVarsNeeded []model.EnvVar `json:"env_vars_needed,omitempty"`
}

// ValidationError is a static-check finding grouped by file.
type ValidationError struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// FixResult is the outcome of one auto-fix round.
type FixResult struct {
	Files           []GeneratedFile `json:"files"`
	Summary         string          `json:"summary"`
	RemainingIssues []string        `json:"remaining_issues,omitempty"`
}

// CodeGenAdapter is the black-box code generation service. Requests and
// responses are plain structured data; no streaming is required here.
type CodeGenAdapter interface {
	Analyze(ctx context.Context, message, context_ string) (*model.Requirements, error)
	Generate(ctx context.Context, req *model.Requirements, item model.PlanItem, context_ string) (GeneratedFile, error)

	// Iterate runs a single agent session over the current file set. It
	// returns domain.ErrInvalidArgument when the session mode is unsupported,
	// in which case the caller falls back to IterateMonolithic.
	Iterate(ctx context.Context, message string, files []model.ProjectFile, context_ string) (IterateResult, error)
	IterateMonolithic(ctx context.Context, message string, files []model.ProjectFile, context_ string) (IterateResult, error)

	Fix(ctx context.Context, errs []ValidationError, affected []model.ProjectFile, all []model.ProjectFile) (FixResult, error)

	ListModels(ctx context.Context) ([]string, error)
}

// CodeValidator runs static checks over a candidate file set.
type CodeValidator interface {
	Validate(ctx context.Context, files []model.ProjectFile) ([]ValidationError, error)
}
