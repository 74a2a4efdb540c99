package workflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/flowdispatch/internal/config"
	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

func testCall(endpoint string) Call {
	return Call{
		Endpoint:   endpoint,
		ModuleSlug: "ai-writer",
		UserID:     "u1",
		Plan:       "premium",
		Timeout:    time.Second,
		Body: &domain.WebhookRequest{
			SessionID: "sess-1",
			Input:     domain.WebhookInput{Message: "hello", ModuleSlug: "ai-writer"},
			Metadata:  domain.WebhookMetadata{ModuleSlug: "ai-writer", CorrelationID: "corr-1"},
			Auth:      domain.AuthEnvelope{UserID: "u1", Plan: "premium", IsPremium: true},
		},
	}
}

func TestPostSendsHeadersAndBody(t *testing.T) {
	var gotHeaders http.Header
	var gotUser, gotPass string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotUser, gotPass, _ = r.BasicAuth()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"done"}`))
	}))
	defer server.Close()

	client := NewClient(Credentials{Username: "hook", Password: "secret"}, "flowdispatch/test")
	body, err := client.Post(context.Background(), testCall(server.URL))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"done"}`, string(body))

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "flowdispatch/test", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "u1", gotHeaders.Get(HeaderUserID))
	assert.Equal(t, "premium", gotHeaders.Get(HeaderUserPlan))
	assert.Equal(t, "ai-writer", gotHeaders.Get(HeaderModule))
	assert.Equal(t, "hook", gotUser)
	assert.Equal(t, "secret", gotPass)

	assert.Equal(t, "sess-1", gotBody["session_id"])
	input := gotBody["input"].(map[string]any)
	assert.Equal(t, "hello", input["message"])
	auth := gotBody["auth"].(map[string]any)
	assert.Equal(t, true, auth["is_premium"])
	metadata := gotBody["metadata"].(map[string]any)
	assert.Equal(t, "corr-1", metadata["correlation_id"])
}

func TestPostNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("workflow crashed"))
	}))
	defer server.Close()

	_, err := NewClient(Credentials{}, "").Post(context.Background(), testCall(server.URL))
	require.Error(t, err)
	assert.Equal(t, result.KindExecution, result.KindOf(err))
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "workflow crashed")
}

func TestPostTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(Credentials{}, "").Post(context.Background(), testCall(url))
	assert.Equal(t, result.KindExecution, result.KindOf(err))
}

func TestPostMissingEndpoint(t *testing.T) {
	_, err := NewClient(Credentials{}, "").Post(context.Background(), testCall(""))
	assert.Equal(t, result.KindConfiguration, result.KindOf(err))
}

func TestPostTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	call := testCall(server.URL)
	call.Timeout = 150 * time.Millisecond

	start := time.Now()
	_, err := NewClient(Credentials{}, "").Post(context.Background(), call)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, result.KindTimeout, result.KindOf(err))
	assert.Contains(t, err.Error(), "may still be completing")
	assert.GreaterOrEqual(t, elapsed, call.Timeout)
	assert.Less(t, elapsed, call.Timeout+time.Second)
}

func TestPostParentCancelIsNotTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewClient(Credentials{}, "").Post(ctx, testCall(server.URL))
	assert.Equal(t, result.KindExecution, result.KindOf(err))
}

func TestTimeoutTable(t *testing.T) {
	p := config.DefaultModulePolicy()
	require.NoError(t, p.Validate())

	timeouts := Timeouts{Default: p.DefaultTimeout, PerModule: p.Timeouts}
	assert.Equal(t, 300*time.Second, timeouts.For("ai-writer"))
	assert.Equal(t, 300*time.Second, timeouts.For("video-generator"))
	assert.Equal(t, 240*time.Second, timeouts.For("image-generator"))
	assert.Equal(t, 240*time.Second, timeouts.For("market-research"))
	assert.Equal(t, 180*time.Second, timeouts.For("seo-optimizer"))
	assert.Equal(t, int64(180000), timeouts.For("anything-else").Milliseconds())

	assert.Equal(t, 180*time.Second, Timeouts{}.For("x"))
	assert.Equal(t, 180*time.Second, Timeouts{PerModule: map[string]time.Duration{"x": 0}}.For("x"))
}
