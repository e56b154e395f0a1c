package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/domain/ports/adapter"
)

var _ adapter.EdgeRoutingAdapter = (*Client)(nil)

// Client manages subdomain routing entries in the edge platform's KV
// namespace plus DNS records and custom hostnames in its zone.
type Client struct {
	base      string
	token     string
	accountID string
	namespace string
	zoneID    string
	client    *http.Client
}

func NewClient(cfg config.EdgeConfig) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.New("edge: base url and token required")
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		accountID: cfg.AccountID,
		namespace: cfg.Namespace,
		zoneID:    cfg.ZoneID,
		client:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *Client) kvPath(slug string) string {
	return fmt.Sprintf("/accounts/%s/storage/kv/namespaces/%s/values/%s",
		c.accountID, c.namespace, url.PathEscape(slug))
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.RemoteError{Op: op, Err: err}
	}
	return resp, nil
}

func (c *Client) PutMapping(ctx context.Context, slug, targetURL string) error {
	const op = "edge.put_mapping"
	resp, err := c.do(ctx, op, http.MethodPut, c.kvPath(slug), strings.NewReader(targetURL), "text/plain")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	return nil
}

// GetMapping returns "" with no error when the slug has no mapping.
func (c *Client) GetMapping(ctx context.Context, slug string) (string, error) {
	const op = "edge.get_mapping"
	resp, err := c.do(ctx, op, http.MethodGet, c.kvPath(slug), nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode >= 300 {
		return "", &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.RemoteError{Op: op, Err: err}
	}
	return string(b), nil
}

func (c *Client) DeleteMapping(ctx context.Context, slug string) error {
	const op = "edge.delete_mapping"
	resp, err := c.do(ctx, op, http.MethodDelete, c.kvPath(slug), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Deleting an absent key is fine; cleanup must be idempotent.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) CreateDNSRecord(ctx context.Context, hostname, target string) error {
	const op = "edge.create_dns_record"
	payload, _ := json.Marshal(map[string]interface{}{
		"type":    "CNAME",
		"name":    hostname,
		"content": target,
		"proxied": true,
	})
	path := fmt.Sprintf("/zones/%s/dns_records", c.zoneID)
	resp, err := c.do(ctx, op, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) CreateCustomHostname(ctx context.Context, hostname string) (string, error) {
	const op = "edge.create_custom_hostname"
	payload, _ := json.Marshal(map[string]interface{}{
		"hostname": hostname,
		"ssl":      map[string]string{"method": "http", "type": "dv"},
	})
	path := fmt.Sprintf("/zones/%s/custom_hostnames", c.zoneID)
	resp, err := c.do(ctx, op, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	var out struct {
		Result struct {
			SSL struct {
				Status string `json:"status"`
			} `json:"ssl"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Result.SSL.Status == "" {
		return "pending", nil
	}
	return out.Result.SSL.Status, nil
}
