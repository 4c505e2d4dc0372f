// Package remote is the HTTP client for the fieldsync backend.
//
// The sync engine consumes the backend through two narrow contracts: an
// incremental read ("records of collection C for org O updated since T")
// and a per-record write (create/update/delete by id). Everything else the
// backend offers is outside this module's scope.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// Client is the outbound contract to the backend.
type Client interface {
	// FetchSince returns records of collection for org updated at or after
	// since. A zero since fetches the full collection.
	FetchSince(ctx context.Context, collection schema.Collection, orgID string, since time.Time) ([]json.RawMessage, error)

	// Create creates a record and returns the server-assigned id.
	Create(ctx context.Context, entityType, entityID string, payload json.RawMessage) (string, error)

	// Update replaces a record by id.
	Update(ctx context.Context, entityType, entityID string, payload json.RawMessage) error

	// Delete removes a record by id.
	Delete(ctx context.Context, entityType, entityID string) error
}

// resourcePath maps a queueable entity type to its REST collection segment.
var resourcePath = map[string]string{
	schema.EntityBeneficiary:  "beneficiaries",
	schema.EntityHousehold:    "households",
	schema.EntityProject:      "projects",
	schema.EntityActivity:     "activities",
	schema.EntityDistribution: "distributions",
	schema.EntityFieldNote:    "field_notes",
}

// HTTPClient implements Client against the backend's JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config holds HTTP client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. https://api.example.org
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// fetchResponse is the envelope the backend wraps list results in.
type fetchResponse struct {
	Records []json.RawMessage `json:"records"`
}

// FetchSince implements Client.FetchSince.
func (c *HTTPClient) FetchSince(ctx context.Context, collection schema.Collection, orgID string, since time.Time) ([]json.RawMessage, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	q := url.Values{}
	q.Set("org_id", orgID)
	if !since.IsZero() {
		q.Set("updated_since", since.UTC().Format(time.RFC3339Nano))
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s?%s", c.baseURL, collection, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", collection, err)
	}
	return out.Records, nil
}

// createResponse carries the server-assigned id back to the caller.
type createResponse struct {
	ID string `json:"id"`
}

// Create implements Client.Create.
func (c *HTTPClient) Create(ctx context.Context, entityType, entityID string, payload json.RawMessage) (string, error) {
	resource, ok := resourcePath[entityType]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s", c.baseURL, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	// Stable across retries; lets the backend deduplicate a re-applied create.
	req.Header.Set("Idempotency-Key", entityID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", entityType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", httpError(resp)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	return out.ID, nil
}

// Update implements Client.Update.
func (c *HTTPClient) Update(ctx context.Context, entityType, entityID string, payload json.RawMessage) error {
	resource, ok := resourcePath[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, resource, url.PathEscape(entityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", entityType, entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return httpError(resp)
	}
	return nil
}

// Delete implements Client.Delete.
func (c *HTTPClient) Delete(ctx context.Context, entityType, entityID string) error {
	resource, ok := resourcePath[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, resource, url.PathEscape(entityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return httpError(resp)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

// httpError turns a non-success response into an error carrying the status
// and a trimmed body excerpt.
func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) == 0 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
}
