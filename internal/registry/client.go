// Package registry is a thin client for the remote server directory used to
// discover MCP servers by search term.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultPageSize = 5

// ServerSummary is one directory entry.
type ServerSummary struct {
	QualifiedName string `json:"qualifiedName"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	IconURL       string `json:"iconUrl,omitempty"`
	Verified      bool   `json:"isVerified"`
}

type searchResponse struct {
	Servers []ServerSummary `json:"servers"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Client talks to the directory's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a directory client. A nil httpClient gets a default with
// a 15-second timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.Named("registry"),
	}
}

// Health reports whether the directory is reachable and healthy.
func (c *Client) Health(ctx context.Context) bool {
	var body healthResponse
	if err := c.get(ctx, "/health", nil, &body); err != nil {
		c.logger.Warn("directory health check failed", zap.Error(err))
		return false
	}
	return body.Status == "ok"
}

// SearchServers queries the directory. Failures are logged and degrade to an
// empty result, matching the discovery UI's expectations.
func (c *Client) SearchServers(ctx context.Context, term string) []ServerSummary {
	query := url.Values{}
	query.Set("q", term)
	query.Set("pageSize", strconv.Itoa(defaultPageSize))

	var body searchResponse
	if err := c.get(ctx, "/servers", query, &body); err != nil {
		c.logger.Warn("directory search failed",
			zap.String("term", term), zap.Error(err))
		return nil
	}
	return body.Servers
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
