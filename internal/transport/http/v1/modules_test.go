package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

func invoke(t *testing.T, e *echo.Echo, h *Handler, slug, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/modules/"+slug+"/invoke", body), rec)
	c.SetParamNames("slug")
	c.SetParamValues(slug)
	if err := h.InvokeModule(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestInvokeModuleGenerative(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"draft"}`))
	}))
	defer webhook.Close()

	e := echo.New()
	h, db := newTestHandler(t)
	seedModule(t, db, "m1", "ai-writer", webhook.URL+"/webhook/ai-writer")
	seedProfile(t, db, "u1", "premium")

	rec := invoke(t, e, h, "ai-writer", `{"user_id":"u1","message":"write"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var outcome domain.WorkflowOutcome
	if err := json.Unmarshal(decode(t, rec).Data, &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.ModuleType != domain.OutcomeGenerative || outcome.OutputMessage == nil {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if string(outcome.Data) != `{"content":"draft"}` {
		t.Fatalf("unexpected data %s", outcome.Data)
	}
}

func TestInvokeModuleErrors(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer webhook.Close()

	e := echo.New()
	h, db := newTestHandler(t)
	seedModule(t, db, "m1", "broken", webhook.URL+"/webhook/broken")
	seedProfile(t, db, "u1", "free")

	cases := []struct {
		slug string
		body string
		code int
		kind string
	}{
		{"broken", `{"message":"x"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing", `{"user_id":"u1"}`, http.StatusNotFound, "MODULE_NOT_FOUND"},
		{"broken", `{"user_id":"nobody"}`, http.StatusNotFound, "PROFILE_NOT_FOUND"},
		{"broken", `{"user_id":"u1"}`, http.StatusBadGateway, "EXECUTION_ERROR"},
	}
	for _, tc := range cases {
		rec := invoke(t, e, h, tc.slug, tc.body)
		if rec.Code != tc.code {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.slug, tc.body, tc.code, rec.Code, rec.Body.String())
		}
		if env := decode(t, rec); env.Kind != tc.kind {
			t.Fatalf("%s %s: expected %s, got %s", tc.slug, tc.body, tc.kind, env.Kind)
		}
	}
}

func TestListModulesAndGetSession(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)
	seedModule(t, db, "m2", "support-chat", "http://workflow.local/webhook/support/chat")
	seedModule(t, db, "m1", "ai-writer", "http://workflow.local/webhook/ai-writer")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/modules", nil), rec)
	if err := h.ListModules(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var modules []domain.ModuleDescriptor
	if err := json.Unmarshal(decode(t, rec).Data, &modules); err != nil {
		t.Fatalf("decode modules: %v", err)
	}
	if len(modules) != 2 || modules[0].Slug != "ai-writer" {
		t.Fatalf("unexpected modules %+v", modules)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/sessions/chat_missing", nil), rec)
	c.SetParamNames("session_id")
	c.SetParamValues("chat_missing")
	if err := h.GetSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
