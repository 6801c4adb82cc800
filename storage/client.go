// Package storage is the boundary to the image storage collaborator.
// Uploads happen upstream; the core only resolves an object reference
// that already exists.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ecotrack/models"
)

// Client resolves stored object references against the storage service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ResolveResponse is the storage service's answer for one object reference
type ResolveResponse struct {
	Ref       string `json:"ref"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// NewClient creates a new storage client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Resolve turns an object reference into a fetchable URL. A storage
// outage comes back as ErrDownstreamUnavailable; callers degrade to
// serving the report without its image link.
func (c *Client) Resolve(ctx context.Context, ref string) (*ResolveResponse, error) {
	if ref == "" {
		return nil, models.ErrNotFound
	}

	endpoint := fmt.Sprintf("%s/objects/%s", c.baseURL, url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, models.ErrNotFound
	default:
		return nil, fmt.Errorf("%w: storage returned %d", models.ErrDownstreamUnavailable, resp.StatusCode)
	}

	result := &ResolveResponse{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode storage response: %w", err)
	}
	return result, nil
}
