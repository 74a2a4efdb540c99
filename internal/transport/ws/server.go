// Package ws streams task events to websocket subscribers.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/flowdispatch/internal/hub"
	"github.com/xiaot623/flowdispatch/internal/transport/http/respond"
)

const maxMessageSize = 4096

// Config holds the keepalive settings of a subscriber connection.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Server handles event subscriptions.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a new websocket server.
func NewServer(cfg Config, h *hub.Hub, logger zerolog.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= cfg.PingInterval {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	return &Server{
		cfg: cfg,
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// RegisterRoutes registers the subscription route.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/events", s.HandleEvents)
	e.GET("/v1/events/status", s.HandleStatus)
}

type statusResponse struct {
	Connections int   `json:"connections"`
	Subscribed  *bool `json:"subscribed,omitempty"`
}

// HandleStatus reports the number of open event streams. With a user_id query
// parameter it also reports whether that user has one.
func (s *Server) HandleStatus(c echo.Context) error {
	resp := statusResponse{Connections: s.hub.ConnectionCount()}
	if userID := c.QueryParam("user_id"); userID != "" {
		subscribed := s.hub.HasSubscribers(userID)
		resp.Subscribed = &subscribed
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleEvents upgrades the request and streams the events of the user named
// by the user_id query parameter.
func (s *Server) HandleEvents(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return respond.Invalid(c, "user_id is required")
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return nil
	}

	conn := s.hub.NewConnection(ws, userID)
	if err := s.hub.Register(conn); err != nil {
		_ = ws.Close()
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump drains control frames until the peer goes away.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket closed")
			}
			return
		}
	}
}

func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("failed to write event")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
