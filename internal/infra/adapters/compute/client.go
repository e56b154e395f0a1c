package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/domain/ports/adapter"
)

// Compile-time assurance this client satisfies the port
var _ adapter.ComputeAdapter = (*Client)(nil)

// Client talks to the compute/deploy platform's REST API.
type Client struct {
	base   string
	token  string
	client *http.Client
}

func NewClient(cfg config.ComputeConfig) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.New("compute: base url and token required")
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.Token,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *Client) CreateProject(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"name": name}
	if err := c.do(ctx, "compute.create_project", http.MethodPost, "/v1/projects", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) CreateService(ctx context.Context, projectID, name string) (adapter.Service, error) {
	var out struct {
		ID            string `json:"id"`
		EnvironmentID string `json:"environment_id"`
	}
	body := map[string]string{"name": name}
	path := fmt.Sprintf("/v1/projects/%s/services", projectID)
	if err := c.do(ctx, "compute.create_service", http.MethodPost, path, body, &out); err != nil {
		return adapter.Service{}, err
	}
	return adapter.Service{ID: out.ID, EnvironmentID: out.EnvironmentID}, nil
}

func (c *Client) ResolveEnvironment(ctx context.Context, projectID string) (string, error) {
	var out struct {
		Environments []struct {
			ID      string `json:"id"`
			Default bool   `json:"default"`
		} `json:"environments"`
	}
	path := fmt.Sprintf("/v1/projects/%s/environments", projectID)
	if err := c.do(ctx, "compute.resolve_environment", http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	for _, e := range out.Environments {
		if e.Default {
			return e.ID, nil
		}
	}
	if len(out.Environments) > 0 {
		return out.Environments[0].ID, nil
	}
	return "", &domain.RemoteError{Op: "compute.resolve_environment", Status: http.StatusNotFound, Err: errors.New("no environments")}
}

func (c *Client) SetEnvVars(ctx context.Context, projectID, environmentID, serviceID string, vars map[string]string) error {
	body := map[string]interface{}{"environment_id": environmentID, "variables": vars}
	path := fmt.Sprintf("/v1/projects/%s/services/%s/variables", projectID, serviceID)
	return c.do(ctx, "compute.set_env_vars", http.MethodPut, path, body, nil)
}

func (c *Client) ConnectSourceRepo(ctx context.Context, projectID, serviceID, repoFullName, branch string) error {
	body := map[string]string{"repo": repoFullName, "branch": branch}
	path := fmt.Sprintf("/v1/projects/%s/services/%s/source", projectID, serviceID)
	return c.do(ctx, "compute.connect_source_repo", http.MethodPost, path, body, nil)
}

func (c *Client) TriggerDeploy(ctx context.Context, projectID, serviceID, environmentID string) error {
	body := map[string]string{"environment_id": environmentID}
	path := fmt.Sprintf("/v1/projects/%s/services/%s/deployments", projectID, serviceID)
	return c.do(ctx, "compute.trigger_deploy", http.MethodPost, path, body, nil)
}

func (c *Client) AllocateDomain(ctx context.Context, serviceID, environmentID string) (string, error) {
	var out struct {
		Domain string `json:"domain"`
	}
	body := map[string]string{"environment_id": environmentID}
	path := fmt.Sprintf("/v1/services/%s/domains", serviceID)
	if err := c.do(ctx, "compute.allocate_domain", http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.Domain == "" {
		return "", &domain.RemoteError{Op: "compute.allocate_domain", Err: errors.New("empty domain in response")}
	}
	if !strings.HasPrefix(out.Domain, "http") {
		return "https://" + out.Domain, nil
	}
	return out.Domain, nil
}

func (c *Client) GetStatus(ctx context.Context, projectID, serviceID string) (adapter.StatusReport, error) {
	var out struct {
		Status       string `json:"status"`
		URL          string `json:"url"`
		DeploymentID string `json:"deployment_id"`
	}
	path := fmt.Sprintf("/v1/projects/%s/services/%s/status", projectID, serviceID)
	if err := c.do(ctx, "compute.get_status", http.MethodGet, path, nil, &out); err != nil {
		return adapter.StatusReport{}, err
	}
	return adapter.StatusReport{
		Status:       normalizeStatus(out.Status),
		URL:          out.URL,
		DeploymentID: out.DeploymentID,
	}, nil
}

// normalizeStatus maps vendor status strings onto the fixed contract set.
func normalizeStatus(s string) adapter.DeployStatus {
	switch strings.ToUpper(s) {
	case "QUEUED", "INITIALIZING", "WAITING":
		return adapter.DeployStatusQueued
	case "BUILDING", "DEPLOYING", "IN_PROGRESS":
		return adapter.DeployStatusBuilding
	case "SUCCESS", "DEPLOYED", "ACTIVE":
		return adapter.DeployStatusSuccess
	case "CRASHED":
		return adapter.DeployStatusCrashed
	case "TIMEOUT", "TIMED_OUT":
		return adapter.DeployStatusTimeout
	default:
		return adapter.DeployStatusFailed
	}
}
