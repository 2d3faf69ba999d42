package httpserver

import (
	"log/slog"
	"net/http"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = gws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Editor clients are served from the same origin in production; the
	// reverse proxy enforces origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the request and attaches the client to the session's
// snapshot stream. The read loop only exists to notice disconnects; clients
// never send data over this socket.
func (s *Server) handleEvents(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	// Reject unknown sessions before upgrading.
	if _, err := s.app.GetSession(c.Request().Context(), id); err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "session_id", id, "error", err)
		return nil
	}

	if err := s.events.Register(id, conn); err != nil {
		return nil
	}

	go func() {
		defer s.events.Unregister(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}
