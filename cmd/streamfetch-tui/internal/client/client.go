// Package client talks to the streamfetch HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/service"
)

// Client wraps API access for one server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// streamClient has no timeout; the event stream lives until cancelled.
	streamClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		streamClient: &http.Client{},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api (%d): %s", e.Status, e.Message)
}

// Jobs returns every job the server knows, in submission order.
func (c *Client) Jobs(ctx context.Context) ([]domain.Job, error) {
	var payload struct {
		Jobs []domain.Job `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

// Groups returns every playlist group.
func (c *Client) Groups(ctx context.Context) ([]domain.Group, error) {
	var payload struct {
		Groups []domain.Group `json:"groups"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/groups", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Groups, nil
}

// AuthStatus returns the session state.
func (c *Client) AuthStatus(ctx context.Context) (*domain.AuthStatus, error) {
	var status domain.AuthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/auth", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Submit queues a URL with the server defaults.
func (c *Client) Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResponse, error) {
	var resp service.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/downloads", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob cancels one job.
func (c *Client) CancelJob(ctx context.Context, id domain.JobID) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/"+string(id)+"/cancel", nil, nil)
}

// RetryJob queues a fresh job for the source of a failed or cancelled job.
func (c *Client) RetryJob(ctx context.Context, id domain.JobID) (*service.SubmitResponse, error) {
	var resp service.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/"+string(id)+"/retry", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelGroup cancels every unfinished job of a group.
func (c *Client) CancelGroup(ctx context.Context, id domain.GroupID) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/groups/"+string(id)+"/cancel", nil, nil)
}

// ImportCookies uploads a Netscape cookies.txt.
func (c *Client) ImportCookies(ctx context.Context, raw string) (*domain.AuthStatus, error) {
	var status domain.AuthStatus
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/cookies", "text/plain", strings.NewReader(raw), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// BeginLogin starts a browser login capture on the server.
func (c *Client) BeginLogin(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", nil, nil)
}

// Logout discards the server's session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

// Follow reads the server-sent event stream and calls fn for every event
// until ctx is cancelled or the stream ends.
func (c *Client) Follow(ctx context.Context, fn func(domain.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return readEvents(resp.Body, fn)
}

// readEvents parses an SSE body. Only "data:" payloads of named domain
// events are decoded; comments and the connected greeting are skipped.
func readEvents(r io.Reader, fn func(domain.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "connected" && data.Len() > 0 {
				var event domain.Event
				if err := json.Unmarshal([]byte(data.String()), &event); err == nil {
					fn(event)
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return io.EOF
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = buf
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "streamfetch-tui")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
