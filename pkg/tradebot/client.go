// Package tradebot is a small Go client for the trader's HTTP API.
package tradebot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlexSDem/trade-bot/internal/api"
	"github.com/AlexSDem/trade-bot/internal/state"
)

// Client talks to a running trader.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the trader listening at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Ready reports whether the trader answers its readiness probe.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, "/readyz")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusServiceUnavailable:
		return false, nil
	default:
		return false, fmt.Errorf("readyz: unexpected status %s", resp.Status)
	}
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.getJSON(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetState fetches the trader's ledger view.
func (c *Client) GetState(ctx context.Context) (*state.View, error) {
	var out state.View
	if err := c.getJSON(ctx, "/api/v1/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJournal fetches the journal of one session day (YYYY-MM-DD). An empty
// day asks for today.
func (c *Client) GetJournal(ctx context.Context, day string) (*api.JournalResponse, error) {
	path := "/api/v1/journal"
	if day != "" {
		path += "?day=" + url.QueryEscape(day)
	}
	var out api.JournalResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("GET %s: %s: %s", path, resp.Status, apiErr.Error)
		}
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
