package respond

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/flowdispatch/internal/result"
)

func TestStatusFor(t *testing.T) {
	cases := map[result.Kind]int{
		result.KindValidation:      http.StatusBadRequest,
		result.KindTaskNotFound:    http.StatusNotFound,
		result.KindSessionNotFound: http.StatusNotFound,
		result.KindPolicyDenied:    http.StatusForbidden,
		result.KindConflict:        http.StatusConflict,
		result.KindTimeout:         http.StatusGatewayTimeout,
		result.KindExecution:       http.StatusBadGateway,
		result.KindSchema:          http.StatusInternalServerError,
		result.KindUnknown:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
}

func TestResultWritesRailwayShape(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	assert.NoError(t, Result(c, http.StatusCreated, result.Ok(map[string]int{"n": 1})))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	assert.NoError(t, Result(c, http.StatusOK, result.Fail[int](result.KindTaskNotFound, "task t1 not found")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"kind":"TASK_NOT_FOUND","error":"task t1 not found"}`, rec.Body.String())
}
