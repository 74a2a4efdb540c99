package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/flowdispatch/internal/adapter/workflow"
	"github.com/xiaot623/flowdispatch/internal/config"
	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/repository"
	"github.com/xiaot623/flowdispatch/internal/service"
	"github.com/xiaot623/flowdispatch/internal/testutil"
)

func newTestHandler(t *testing.T) (*Handler, *repository.SQLiteStore) {
	t.Helper()
	cfg := &config.Config{WebhookRatePerSec: 100, DispatchBatchSize: 10, DispatchConcurrency: 1, SessionTTL: 24 * time.Hour}
	db := testutil.NewTestSQLiteStore(t)
	client := workflow.NewClient(workflow.Credentials{Username: "hook", Password: "pw"}, "flowdispatch/test")
	svc := service.New(db, client, nil, nil, cfg, zerolog.Nop())
	return NewHandler(svc), db
}

func seedModule(t *testing.T, db repository.Store, id, slug, endpoint string) {
	t.Helper()
	m := &domain.ModuleDescriptor{ID: id, Name: slug, Slug: slug, Endpoint: endpoint, CreatedAt: time.Now()}
	if err := db.UpsertModule(context.Background(), m); err != nil {
		t.Fatalf("UpsertModule failed: %v", err)
	}
}

func seedProfile(t *testing.T, db repository.Store, userID, plan string) {
	t.Helper()
	now := time.Now()
	p := &domain.Profile{UserID: userID, Email: userID + "@example.com", PlanName: plan, Status: "active", Role: "user", CreatedAt: now, UpdatedAt: now}
	if err := db.UpsertProfile(context.Background(), p); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Kind    string          `json:"kind"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
	return env
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestTimestampAcceptsBothForms(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2026-01-02T03:04:05Z"`), &ts); err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if ts.UTC().Hour() != 3 {
		t.Fatalf("unexpected time %v", ts.Time)
	}

	if err := json.Unmarshal([]byte(`1767323045000`), &ts); err != nil {
		t.Fatalf("millis: %v", err)
	}
	if ts.UnixMilli() != 1767323045000 {
		t.Fatalf("unexpected millis %d", ts.UnixMilli())
	}

	if err := json.Unmarshal([]byte(`"tomorrow"`), &ts); err == nil {
		t.Fatalf("expected error for free-form string")
	}
}

func TestListLimit(t *testing.T) {
	e := echo.New()
	cases := map[string]struct {
		limit int
		ok    bool
	}{
		"":     {defaultListLimit, true},
		"5":    {5, true},
		"9999": {maxListLimit, true},
		"0":    {0, false},
		"abc":  {0, false},
	}
	for raw, want := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil), httptest.NewRecorder())
		got, ok := listLimit(c)
		if got != want.limit || ok != want.ok {
			t.Fatalf("limit %q: got (%d, %v), want (%d, %v)", raw, got, ok, want.limit, want.ok)
		}
	}
}
