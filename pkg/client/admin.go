package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotFound is returned when the router has no such message.
var ErrNotFound = errors.New("not found")

// AdminClient calls the router's HTTP API
type AdminClient struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewAdminClient creates a new HTTP API client
func NewAdminClient(config Config) (*AdminClient, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &AdminClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// GetHealth returns the health status of the router
func (c *AdminClient) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// GetStats returns router statistics (admin only)
func (c *AdminClient) GetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// ListAgents returns the connected agents (admin only)
func (c *AdminClient) ListAgents(ctx context.Context) (*AgentsResponse, error) {
	var resp AgentsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/agents", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return &resp, nil
}

// DeleteMessage removes a message from a topic (admin only)
func (c *AdminClient) DeleteMessage(ctx context.Context, topic, id string) error {
	path := fmt.Sprintf("/api/v1/admin/topics/%s/messages/%s", url.PathEscape(topic), url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, true); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *AdminClient) doRequest(ctx context.Context, method, path string, respBody interface{}, requireAuth bool) error {
	u, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	fullURL := c.baseURL.ResolveReference(u)

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if requireAuth {
		if c.config.Token == "" {
			return fmt.Errorf("admin token required")
		}
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Message)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
