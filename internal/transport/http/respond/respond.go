// Package respond writes Result values as HTTP responses.
package respond

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/flowdispatch/internal/result"
)

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind result.Kind) int {
	switch kind {
	case result.KindValidation:
		return http.StatusBadRequest
	case result.KindTaskNotFound, result.KindSessionNotFound, result.KindModuleNotFound, result.KindProfileNotFound:
		return http.StatusNotFound
	case result.KindPolicyDenied:
		return http.StatusForbidden
	case result.KindConflict:
		return http.StatusConflict
	case result.KindTimeout:
		return http.StatusGatewayTimeout
	case result.KindExecution:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Result writes res with okStatus on success and the kind's status on failure.
func Result[T any](c echo.Context, okStatus int, res result.Result[T]) error {
	if !res.Success {
		return c.JSON(StatusFor(res.Kind), res)
	}
	return c.JSON(okStatus, res)
}

// Invalid writes a VALIDATION_ERROR response.
func Invalid(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, result.Fail[struct{}](result.KindValidation, message))
}
