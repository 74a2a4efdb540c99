// Package workflow provides the HTTP client that calls module webhooks on the
// external workflow engine.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

// Header names sent with every webhook call.
const (
	HeaderUserID   = "X-Flow-User-ID"
	HeaderUserPlan = "X-Flow-User-Plan"
	HeaderModule   = "X-Flow-Module"
)

const maxErrorBody = 4 << 10

var errDeadline = errors.New("workflow invocation deadline exceeded")

// Credentials are sent as HTTP Basic authentication.
type Credentials struct {
	Username string
	Password string
}

// Client posts webhook requests.
//
// The http.Client carries no timeout of its own; every call is bounded by the
// per-module timeout passed in Call.
type Client struct {
	httpClient *http.Client
	creds      Credentials
	userAgent  string
}

// NewClient creates a new workflow client.
func NewClient(creds Credentials, userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{},
		creds:      creds,
		userAgent:  userAgent,
	}
}

// Call is one outbound webhook request.
type Call struct {
	Endpoint   string
	ModuleSlug string
	UserID     string
	Plan       string
	Timeout    time.Duration
	Body       *domain.WebhookRequest
}

// Post sends the call and returns the raw response body of a 2xx response.
//
// Errors are *result.Error: TIMEOUT when the call outlives its timeout and
// EXECUTION_ERROR for non-2xx statuses, transport failures and cancellation.
func (c *Client) Post(ctx context.Context, call Call) ([]byte, error) {
	if call.Endpoint == "" {
		return nil, result.Errorf(result.KindConfiguration, "module %s has no webhook endpoint", call.ModuleSlug)
	}

	body, err := json.Marshal(call.Body)
	if err != nil {
		return nil, result.Errorf(result.KindExecution, "failed to marshal request: %v", err)
	}

	callCtx := ctx
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeoutCause(ctx, call.Timeout, errDeadline)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, call.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, result.Errorf(result.KindExecution, "failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	httpReq.Header.Set(HeaderUserID, call.UserID)
	httpReq.Header.Set(HeaderUserPlan, call.Plan)
	httpReq.Header.Set(HeaderModule, call.ModuleSlug)
	if c.creds.Username != "" || c.creds.Password != "" {
		httpReq.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classify(callCtx, call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, result.Errorf(result.KindExecution, "workflow returned status %d: %s", resp.StatusCode, string(errBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(callCtx, call, err)
	}
	return respBody, nil
}

func (c *Client) classify(ctx context.Context, call Call, err error) error {
	if errors.Is(context.Cause(ctx), errDeadline) {
		return result.Errorf(result.KindTimeout,
			"workflow %s did not respond within %s; it may still be completing in the background",
			call.ModuleSlug, call.Timeout)
	}
	return result.Errorf(result.KindExecution, "failed to invoke workflow: %v", err)
}

// Timeouts maps module slugs to their invocation budget.
type Timeouts struct {
	Default   time.Duration
	PerModule map[string]time.Duration
}

// For returns the timeout of slug.
func (t Timeouts) For(slug string) time.Duration {
	if d, ok := t.PerModule[slug]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return 180 * time.Second
}
