package httpserver

import (
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(ErrorHandlingMiddleware())

	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	uploadLimiter := newRateLimiter(s.config.UploadRatePerSecond, s.config.UploadRateBurst)
	// One spare megabyte over the image limit for multipart framing.
	bodyLimit := middleware.BodyLimit(fmt.Sprintf("%dM", s.config.MaxUploadBytes/(1<<20)+1))

	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)

	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)

	api.POST("/sessions/:id/source", s.handleUploadSource, uploadLimiter, bodyLimit)
	api.POST("/sessions/:id/removal", s.handleRequestRemoval)
	api.PUT("/sessions/:id/background", s.handleSetBackground)
	api.PUT("/sessions/:id/background/image", s.handleSetBackgroundImage, uploadLimiter, bodyLimit)
	api.PUT("/sessions/:id/transform", s.handleUpdateTransform)
	api.POST("/sessions/:id/gestures", s.handleGestures)
	api.POST("/sessions/:id/reset", s.handleReset)
	api.DELETE("/sessions/:id/error", s.handleDismissError)
	api.GET("/sessions/:id/export", s.handleExport)
	api.GET("/sessions/:id/events", s.handleEvents)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
