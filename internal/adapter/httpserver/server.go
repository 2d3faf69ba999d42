// Package httpserver exposes the editing sessions over a JSON API plus a
// per-session WebSocket event stream.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cutoutlab/cutout/internal/app"
	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/platform/config"
)

type sessionService interface {
	CreateSession(ctx context.Context) domain.Snapshot
	GetSession(ctx context.Context, id uuid.UUID) (domain.Snapshot, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	UploadSource(ctx context.Context, id uuid.UUID, data []byte) (domain.Snapshot, error)
	RequestRemoval(ctx context.Context, id uuid.UUID) (domain.Snapshot, error)
	SetBackgroundColor(ctx context.Context, id uuid.UUID, hex string) (domain.Snapshot, error)
	SetBackgroundImage(ctx context.Context, id uuid.UUID, data []byte) (domain.Snapshot, error)
	ClearBackground(ctx context.Context, id uuid.UUID) (domain.Snapshot, error)
	UpdateTransform(ctx context.Context, id uuid.UUID, patch domain.TransformPatch) (domain.Snapshot, error)
	ApplyGestures(ctx context.Context, id uuid.UUID, gestures []app.Gesture) (domain.Snapshot, error)
	Reset(ctx context.Context, id uuid.UUID) (domain.Snapshot, error)
	DismissError(ctx context.Context, id uuid.UUID) (domain.Snapshot, error)
	Export(ctx context.Context, id uuid.UUID, format string, quality int) (app.ExportResult, error)
	ProcessorWarmed() bool
}

// eventStream attaches a WebSocket connection to a session's event feed.
type eventStream interface {
	Register(sessionID uuid.UUID, conn *gws.Conn) error
	Unregister(sessionID uuid.UUID, conn *gws.Conn)
}

// HealthCheck is a named readiness probe run by the health endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app          sessionService
	events       eventStream
	healthChecks []HealthCheck
}

func NewServer(cfg *config.Config, app sessionService, events eventStream, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		events:       events,
		healthChecks: healthChecks,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	for _, check := range s.healthChecks {
		if err := check.Check(ctx); err != nil {
			slog.Warn("Health check failed", "check", check.Name, "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"check":  check.Name,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"processorWarmed": s.app.ProcessorWarmed(),
	})
}
