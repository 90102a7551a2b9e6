// Package client is an HTTP client for the node search API with retry and auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/retry"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/protocol"
)

// Client talks to the node search API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Retry     retry.Policy
	AuthToken string
}

// DefaultRetry retries transient failures three times.
func DefaultRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetry()
	}
	cfg.Retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Debug("retrying request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		policy:    cfg.Retry,
		authToken: cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var out protocol.HealthResponse
	return c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
}

// Find fetches one page of the caller's search results.
func (c *Client) Find(ctx context.Context, req protocol.FindRequest) (*protocol.FindResponse, error) {
	var out protocol.FindResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/nodes/find", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindAll pages through every result, calling fn once per page.
func (c *Client) FindAll(ctx context.Context, req protocol.FindRequest, fn func(*protocol.FindResponse) error) error {
	for {
		page, err := c.Find(ctx, req)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if page.PageToken == "" {
			return nil
		}
		req = protocol.FindRequest{PageToken: page.PageToken}
	}
}

// FindPublic fetches one page of a link-shared folder without auth.
func (c *Client) FindPublic(ctx context.Context, folderID, password string, limit int, pageToken string) (*protocol.FindResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	path := "/api/v1/public/folders/" + url.PathEscape(folderID) + "/nodes"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var header http.Header
	if password != "" {
		header = http.Header{"X-Link-Password": []string{password}}
	}
	var out protocol.FindResponse
	if err := c.do(ctx, http.MethodGet, path, header, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Move re-parents nodes under a destination folder.
func (c *Client) Move(ctx context.Context, req protocol.MoveRequest) (*protocol.MoveResponse, error) {
	var out protocol.MoveResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/nodes/move", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateLink publishes a folder through a public link.
func (c *Client) CreateLink(ctx context.Context, req protocol.CreateLinkRequest) (*protocol.LinkResponse, error) {
	var out protocol.LinkResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/links", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeLink deactivates a public link.
func (c *Client) RevokeLink(ctx context.Context, linkID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/links/"+url.PathEscape(linkID), nil, nil, nil)
}

// do sends a JSON request and decodes a JSON response into out, unless out
// is nil. Network
// errors and 5xx answers are retried; 4xx answers are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	_, err := retry.Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Message: readError(resp.Body)}
			if resp.StatusCode >= 500 {
				return struct{}{}, retry.Transient(apiErr)
			}
			return struct{}{}, apiErr
		}
		if out == nil {
			return struct{}{}, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("decode response: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e protocol.ErrorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(data)
}
