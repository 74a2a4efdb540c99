// Package http provides the HTTP servers of the dispatcher.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/xiaot623/flowdispatch/internal/logging"
	"github.com/xiaot623/flowdispatch/internal/service"
	"github.com/xiaot623/flowdispatch/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/flowdispatch/internal/transport/http/v1"
	"github.com/xiaot623/flowdispatch/internal/transport/ws"
)

// NewExternalServer creates the public server: task and module APIs plus the
// event stream.
func NewExternalServer(svc *service.Service, events *ws.Server, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(logger.With().Str("server", "external").Logger()))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc).RegisterRoutes(e)
	if events != nil {
		events.RegisterRoutes(e)
	}
	return e
}

// NewInternalServer creates the operator server.
func NewInternalServer(svc *service.Service, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(logger.With().Str("server", "internal").Logger()))
	e.Use(middleware.Recover())

	internalapi.NewHandler(svc).RegisterRoutes(e)
	return e
}
