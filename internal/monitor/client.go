package monitor

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

	httpapi "github.com/fyrsmithlabs/clinicpulse/internal/http"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the ClinicPulse HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Stages queries the configured stage table.
func (c *Client) Stages(ctx context.Context) ([]httpapi.StageInfo, error) {
	var out []httpapi.StageInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/stages", nil, &out)
	return out, err
}

// Sessions lists stored session ids.
func (c *Client) Sessions(ctx context.Context) ([]string, error) {
	var out httpapi.SessionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Session fetches one session.
func (c *Client) Session(ctx context.Context, id string) (*httpapi.SessionResponse, error) {
	var out httpapi.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts one message to a session.
func (c *Client) Send(ctx context.Context, id, message string) (*pipeline.TickResult, error) {
	var out pipeline.TickResult
	body := httpapi.MessageRequest{Message: message}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvokeTool runs one tool for a session.
func (c *Client) InvokeTool(ctx context.Context, id, name string, args map[string]any) (tools.Result, error) {
	var out tools.Result
	body := httpapi.ToolRequest{Args: args}
	path := "/api/v1/sessions/" + url.PathEscape(id) + "/tools/" + url.PathEscape(name)
	err := c.do(ctx, http.MethodPost, path, body, &out)
	return out, err
}

// Evaluate scores a briefing text.
func (c *Client) Evaluate(ctx context.Context, text string) (httpapi.EvaluateResponse, error) {
	var out httpapi.EvaluateResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/briefings/evaluate", httpapi.EvaluateRequest{Text: text}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError turns an error response into an error carrying the
// server's message.
func statusError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, msg)
}
