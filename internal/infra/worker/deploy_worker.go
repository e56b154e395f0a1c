package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"appforge/internal/domain/model"
	"appforge/internal/usecase"
)

var _ Handler = (*DeployHandler)(nil)

// DeployHandler runs deploy jobs through the staged deploy pipeline.
type DeployHandler struct {
	deploy usecase.DeployUseCase
}

func NewDeployHandler(deploy usecase.DeployUseCase) *DeployHandler {
	return &DeployHandler{deploy: deploy}
}

func (h *DeployHandler) Type() model.JobType { return model.JobTypeDeploy }

func (h *DeployHandler) ProjectID(job *model.Job) (string, error) {
	p, err := parseDeployPayload(job)
	if err != nil {
		return "", err
	}
	return p.ProjectID, nil
}

func (h *DeployHandler) Handle(ctx context.Context, job *model.Job) error {
	p, err := parseDeployPayload(job)
	if err != nil {
		return err
	}
	return h.deploy.Run(ctx, p)
}

func parseDeployPayload(job *model.Job) (model.DeployPayload, error) {
	var p model.DeployPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding deploy payload: %w", err)
	}
	if p.ProjectID == "" {
		return p, fmt.Errorf("deploy payload missing project_id")
	}
	return p, nil
}
