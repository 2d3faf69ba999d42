package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cutoutlab/cutout/internal/app"
	"github.com/cutoutlab/cutout/internal/domain"
)

func (s *Server) handleCreateSession(c echo.Context) error {
	snap := s.app.CreateSession(c.Request().Context())
	return c.JSON(http.StatusCreated, snap)
}

func (s *Server) handleGetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	snap, err := s.app.GetSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	if err := s.app.DeleteSession(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUploadSource(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	data, err := readImageUpload(c)
	if err != nil {
		return err
	}

	snap, err := s.app.UploadSource(c.Request().Context(), id, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRequestRemoval(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	snap, err := s.app.RequestRemoval(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, snap)
}

type backgroundRequest struct {
	Kind  string `json:"kind"`
	Color string `json:"color"`
}

func (s *Server) handleSetBackground(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req backgroundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	var snap domain.Snapshot
	switch req.Kind {
	case "color":
		snap, err = s.app.SetBackgroundColor(ctx, id, req.Color)
	case "none":
		snap, err = s.app.ClearBackground(ctx, id)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown background kind %q", req.Kind))
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleSetBackgroundImage(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	data, err := readImageUpload(c)
	if err != nil {
		return err
	}

	snap, err := s.app.SetBackgroundImage(c.Request().Context(), id, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleUpdateTransform(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var patch domain.TransformPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := s.app.UpdateTransform(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

type gesturesRequest struct {
	Gestures []app.Gesture `json:"gestures"`
}

func (s *Server) handleGestures(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req gesturesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Gestures) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no gestures given")
	}

	snap, err := s.app.ApplyGestures(c.Request().Context(), id, req.Gestures)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleReset(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	snap, err := s.app.Reset(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleDismissError(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	snap, err := s.app.DismissError(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleExport(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	format := c.QueryParam("format")
	if format == "" {
		format = "png"
	}

	quality := 0
	if q := c.QueryParam("quality"); q != "" {
		quality, err = strconv.Atoi(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "quality must be a number")
		}
	}

	res, err := s.app.Export(c.Request().Context(), id, format, quality)
	if err != nil {
		return err
	}

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=cutout.%s", format))
	return c.Blob(http.StatusOK, res.ContentType, res.Data)
}

func sessionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

// readImageUpload accepts either a multipart form with an "image" file or a
// raw request body.
func readImageUpload(c echo.Context) ([]byte, error) {
	if file, err := c.FormFile("image"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
		}
		return data, nil
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}
	if len(data) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "empty upload")
	}
	return data, nil
}
