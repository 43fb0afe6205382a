// Package api implements the HTTP client for the remote CRM API the sync
// engine drains against.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the remote CRM API. Every call carries the configured
// request timeout; a timeout surfaces as a transport error and follows the
// same retry path as any other network failure.
type Client struct {
	base       string
	healthPath string
	http       *http.Client
}

// NewClient creates a client for the given base URL, e.g. "https://crm.example.com/api".
func NewClient(baseURL, healthPath string, timeout time.Duration) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		healthPath: healthPath,
		http:       &http.Client{Timeout: timeout},
	}
}

// Create POSTs a new entity and returns the authoritative server record,
// which always includes the server-assigned id.
func (c *Client) Create(ctx context.Context, collection string, payload map[string]any) (map[string]any, error) {
	return c.send(ctx, http.MethodPost, c.base+"/"+collection, collection, "", payload)
}

// Update PUTs an entity. A 409 response decodes the server's version into
// a ConflictError; a 404 returns ErrNotFound.
func (c *Client) Update(ctx context.Context, collection, id string, payload map[string]any) (map[string]any, error) {
	return c.send(ctx, http.MethodPut, c.base+"/"+collection+"/"+id, collection, id, payload)
}

// Delete removes an entity. 404 counts as success: the entity is already gone.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/"+collection+"/"+id, nil)
	if err != nil {
		return fmt.Errorf("api: build delete: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: delete %s/%s: %w", collection, id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || is2xx(resp.StatusCode) {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RemoteError{Status: resp.StatusCode, Body: string(body)}
}

// Ping probes connectivity against the health endpoint. Any HTTP response,
// whatever its status, proves the network path is up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("api: build ping: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: ping: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) send(ctx context.Context, method, url, collection, id string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("api: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case is2xx(resp.StatusCode):
		var server map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&server); err != nil {
			// A success without a parseable body still confirms the write.
			return map[string]any{}, nil
		}
		return server, nil

	case resp.StatusCode == http.StatusConflict:
		var server map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&server)
		return nil, &ConflictError{Collection: collection, EntityID: id, Server: server}

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(raw)}
	}
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
