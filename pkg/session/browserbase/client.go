// Package browserbase implements session.Provider on top of the Browserbase
// REST API.
//
// Example:
//
//	client, err := browserbase.NewClient("", "",
//	    browserbase.WithContextID("ctx_123"),
//	    browserbase.WithKeepAlive(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gw := session.NewGateway(client)
package browserbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/entrhq/webpilot/pkg/session"
)

const (
	// DefaultBaseURL is the Browserbase API base URL
	DefaultBaseURL = "https://api.browserbase.com"

	// DefaultConnectURL is the CDP endpoint template for a session.
	DefaultConnectURL = "wss://connect.browserbase.com?apiKey={api_key}&sessionId={session_id}"

	// DefaultViewURL is the dashboard URL template for a session.
	DefaultViewURL = "https://www.browserbase.com/sessions/{session_id}"

	apiKeyHeader = "X-BB-API-Key"
)

// Client talks to the Browserbase sessions API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	projectID  string
	contextID  string
	baseURL    string
	connectURL string
	viewURL    string
	keepAlive  bool
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithContextID makes new sessions reuse a persistent browser context.
func WithContextID(id string) ClientOption {
	return func(c *Client) {
		c.contextID = id
	}
}

// WithKeepAlive keeps sessions running after their automation disconnects.
func WithKeepAlive(keepAlive bool) ClientOption {
	return func(c *Client) {
		c.keepAlive = keepAlive
	}
}

// WithConnectURL sets the connect URL template. {api_key} and {session_id}
// are substituted.
func WithConnectURL(tmpl string) ClientOption {
	return func(c *Client) {
		if tmpl != "" {
			c.connectURL = tmpl
		}
	}
}

// WithViewURL sets the dashboard URL template. {session_id} is substituted.
func WithViewURL(tmpl string) ClientOption {
	return func(c *Client) {
		if tmpl != "" {
			c.viewURL = tmpl
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Browserbase client.
//
// Empty apiKey and projectID fall back to BROWSERBASE_API_KEY and
// BROWSERBASE_PROJECT_ID; an unset context id falls back to
// BROWSERBASE_CONTEXT_ID.
func NewClient(apiKey, projectID string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("BROWSERBASE_API_KEY")
	}
	if projectID == "" {
		projectID = os.Getenv("BROWSERBASE_PROJECT_ID")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("browserbase API key is required (provide via parameter or BROWSERBASE_API_KEY environment variable)")
	}
	if projectID == "" {
		return nil, fmt.Errorf("browserbase project id is required (provide via parameter or BROWSERBASE_PROJECT_ID environment variable)")
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		projectID:  projectID,
		contextID:  os.Getenv("BROWSERBASE_CONTEXT_ID"),
		baseURL:    DefaultBaseURL,
		connectURL: DefaultConnectURL,
		viewURL:    DefaultViewURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type browserContext struct {
	ID string `json:"id"`
}

type browserSettings struct {
	Context *browserContext `json:"context,omitempty"`
}

type createRequest struct {
	ProjectID       string          `json:"projectId"`
	BrowserSettings browserSettings `json:"browserSettings"`
	KeepAlive       bool            `json:"keepAlive,omitempty"`
}

type createResponse struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`
}

type debugResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
}

type updateRequest struct {
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// Create starts a new session.
func (c *Client) Create(ctx context.Context) (*session.Info, error) {
	body := createRequest{ProjectID: c.projectID, KeepAlive: c.keepAlive}
	if c.contextID != "" {
		body.BrowserSettings.Context = &browserContext{ID: c.contextID}
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.ConnectURL == "" {
		resp.ConnectURL = c.ConnectURL(resp.ID)
	}
	return &session.Info{ID: resp.ID, ConnectURL: resp.ConnectURL}, nil
}

// DebugURL returns the fullscreen live debugger URL for a session.
func (c *Client) DebugURL(ctx context.Context, id string) (string, error) {
	var resp debugResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id)+"/debug", nil, &resp); err != nil {
		return "", fmt.Errorf("debug session %s: %w", id, err)
	}
	if resp.DebuggerFullscreenURL != "" {
		return resp.DebuggerFullscreenURL, nil
	}
	if resp.DebuggerURL != "" {
		return resp.DebuggerURL, nil
	}
	return "", fmt.Errorf("debug session %s: response carried no debugger URL", id)
}

// Release asks Browserbase to end a session.
func (c *Client) Release(ctx context.Context, id string) error {
	body := updateRequest{ProjectID: c.projectID, Status: "REQUEST_RELEASE"}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("release session %s: %w", id, err)
	}
	return nil
}

// ConnectURL returns the CDP endpoint for a session.
func (c *Client) ConnectURL(id string) string {
	return strings.NewReplacer(
		"{api_key}", url.QueryEscape(c.apiKey),
		"{session_id}", url.QueryEscape(id),
	).Replace(c.connectURL)
}

// ViewURL returns the dashboard URL for a session.
func (c *Client) ViewURL(id string) string {
	return strings.ReplaceAll(c.viewURL, "{session_id}", url.PathEscape(id))
}

// APIError is a non-2xx response from the Browserbase API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browserbase API returned status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ session.Provider = (*Client)(nil)
