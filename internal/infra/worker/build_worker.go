package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"appforge/internal/domain/model"
	"appforge/internal/usecase"
)

var _ Handler = (*BuildHandler)(nil)

// BuildHandler runs build jobs: a first build for a file-less project, an
// iteration for everything else. The decision lives in the use case.
type BuildHandler struct {
	gen usecase.GenerationUseCase
}

func NewBuildHandler(gen usecase.GenerationUseCase) *BuildHandler {
	return &BuildHandler{gen: gen}
}

func (h *BuildHandler) Type() model.JobType { return model.JobTypeBuild }

func (h *BuildHandler) ProjectID(job *model.Job) (string, error) {
	p, err := parseBuildPayload(job)
	if err != nil {
		return "", err
	}
	return p.ProjectID, nil
}

func (h *BuildHandler) Handle(ctx context.Context, job *model.Job) error {
	p, err := parseBuildPayload(job)
	if err != nil {
		return err
	}
	return h.gen.Run(ctx, p)
}

func parseBuildPayload(job *model.Job) (model.BuildPayload, error) {
	var p model.BuildPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding build payload: %w", err)
	}
	if p.ProjectID == "" {
		return p, fmt.Errorf("build payload missing project_id")
	}
	return p, nil
}
