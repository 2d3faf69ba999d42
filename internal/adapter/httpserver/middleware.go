package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/platform/correlation"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// errorResponse is the JSON body of every non-2xx API answer.
type errorResponse struct {
	Error domain.FailureView `json:"error"`
}

// ErrorHandlingMiddleware maps domain errors to HTTP answers: session
// failures keep their kind and user message, sentinel errors get conventional
// statuses, everything else becomes an opaque 500.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			status, body := mapError(err)
			logError(c, status, err)

			if err := c.JSON(status, body); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func mapError(err error) (int, errorResponse) {
	var failure *domain.Failure
	if errors.As(err, &failure) {
		view := domain.FailureView{
			Kind:      string(failure.Kind),
			Message:   failure.Message,
			Retryable: failure.Retryable,
		}
		switch failure.Kind {
		case domain.FailureUpload, domain.FailureExport:
			return http.StatusBadRequest, errorResponse{Error: view}
		case domain.FailureCapability:
			return http.StatusServiceUnavailable, errorResponse{Error: view}
		default:
			return http.StatusBadGateway, errorResponse{Error: view}
		}
	}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, validationBody("not_found", err)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNoSource):
		return http.StatusConflict, validationBody("conflict", err)
	case errors.Is(err, domain.ErrInvalidScale), errors.Is(err, domain.ErrInvalidColor):
		return http.StatusBadRequest, validationBody("validation", err)
	}

	return http.StatusInternalServerError, errorResponse{
		Error: domain.FailureView{Kind: "internal", Message: "internal server error"},
	}
}

func validationBody(kind string, err error) errorResponse {
	return errorResponse{Error: domain.FailureView{Kind: kind, Message: err.Error()}}
}

func logError(c echo.Context, status int, err error) {
	attrs := []any{
		"error", err,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", status,
	}

	ctx := c.Request().Context()
	switch {
	case status >= http.StatusInternalServerError:
		slog.ErrorContext(ctx, "Request failed", attrs...)
	default:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	}
}
