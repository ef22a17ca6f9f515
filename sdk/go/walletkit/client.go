package walletkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is used by WaitInvocation when interval is not positive.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the WalletKit REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Tool describes a tool exposed by the server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Source      string         `json:"source,omitempty"`
	Schema      map[string]any `json:"schema"`
}

// ToolResult is the outcome of a synchronous invocation. Failed actions are
// reported here, not as errors.
type ToolResult struct {
	Tool            string `json:"tool"`
	Status          string `json:"status"`
	Output          string `json:"output"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Code            string `json:"code,omitempty"`
}

// OK reports whether the action succeeded.
func (r ToolResult) OK() bool { return r.Status == "success" }

// InvocationRequest submits a tool call to the asynchronous journal. ID is
// an optional idempotency key.
type InvocationRequest struct {
	ID        string         `json:"id,omitempty"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Invocation is one journal record.
type Invocation struct {
	ID              string         `json:"id"`
	Tool            string         `json:"tool"`
	Network         string         `json:"network"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	Status          string         `json:"status"`
	Outcome         string         `json:"outcome,omitempty"`
	Output          string         `json:"output,omitempty"`
	TransactionHash string         `json:"transaction_hash,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// Done reports whether the invocation reached a final state.
func (i Invocation) Done() bool {
	return i.Status == "succeeded" || i.Status == "failed"
}

// ListFilter narrows ListInvocations and InvocationStats.
type ListFilter struct {
	Limit    int
	Offset   int
	Statuses []string
	Tool     string
}

// Stats aggregates invocation states.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// APIError represents server side validation, auth or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletkit api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletkit api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the bearer token sent with every request.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token. An empty token disables the header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = strings.TrimSpace(token)
}

// Health returns the server's wallet network and address.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.get(ctx, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTools returns the server's tools in registry order.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if err := c.get(ctx, "/api/v1/tools", nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// InvokeTool runs a tool synchronously and waits for confirmation.
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	if strings.TrimSpace(name) == "" {
		return ToolResult{}, errors.New("walletkit: tool name is required")
	}
	if args == nil {
		args = map[string]any{}
	}
	var result ToolResult
	endpoint := "/api/v1/tools/" + url.PathEscape(name) + "/invoke"
	if err := c.post(ctx, endpoint, map[string]any{"arguments": args}, &result); err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

// SubmitInvocation enqueues a tool call and returns the pending record.
func (c *Client) SubmitInvocation(ctx context.Context, req InvocationRequest) (Invocation, error) {
	var inv Invocation
	if err := c.post(ctx, "/api/v1/invocations", req, &inv); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

// GetInvocation fetches a journal record.
func (c *Client) GetInvocation(ctx context.Context, id string) (Invocation, error) {
	var inv Invocation
	if err := c.get(ctx, "/api/v1/invocations/"+url.PathEscape(id), nil, &inv); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

// ListInvocations returns the most recently updated records first.
func (c *Client) ListInvocations(ctx context.Context, filter ListFilter) ([]Invocation, error) {
	var out []Invocation
	if err := c.get(ctx, "/api/v1/invocations", filter.query(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InvocationStats returns counts per status.
func (c *Client) InvocationStats(ctx context.Context, filter ListFilter) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/invocations/stats", filter.query(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitInvocation polls until the invocation is done or ctx ends.
func (c *Client) WaitInvocation(ctx context.Context, id string, interval time.Duration) (Invocation, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		inv, err := c.GetInvocation(ctx, id)
		if err != nil {
			return Invocation{}, err
		}
		if inv.Done() {
			return inv, nil
		}
		select {
		case <-ctx.Done():
			return inv, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f ListFilter) query() url.Values {
	values := url.Values{}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(f.Statuses) > 0 {
		values.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Tool != "" {
		values.Set("tool", f.Tool)
	}
	return values
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			var envelope struct {
				Error *APIError `json:"error"`
			}
			if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
				apiErr.Code = envelope.Error.Code
				apiErr.Message = envelope.Error.Message
			} else {
				// 兼容扁平结构或纯文本的错误体
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
