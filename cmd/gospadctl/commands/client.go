package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// statusResponse mirrors adminapi.Status; duplicated here rather than
// imported so gospadctl stays a thin HTTP client with no dependency on
// the daemon's internal packages.
type statusResponse struct {
	RunID           string    `json:"run_id"`
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	StanzaCount     int       `json:"stanza_count"`
	ReplayStoreSize int       `json:"replay_store_size"`
	ActiveGrants    int       `json:"active_grants"`
}

// adminClient is a thin JSON HTTP client for the daemon's read-only
// admin API.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(baseURL string) *adminClient {
	return &adminClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *adminClient) getStatus(ctx context.Context) (*statusResponse, error) {
	var status statusResponse
	if err := c.getJSON(ctx, "/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *adminClient) getHealthz(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build healthz request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("healthz request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz: %w: status %d", errAdminRequestFailed, resp.StatusCode)
	}
	return nil
}

func (c *adminClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: status %d", path, errAdminRequestFailed, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
