package app

import (
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/cutoutlab/cutout/internal/compose"
	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/export"
)

// ExportResult carries an encoded surface and its media type.
type ExportResult struct {
	Data        []byte
	ContentType string
}

// Export renders the current editing surface and encodes it. Concurrent
// exports of the same session generation with the same parameters collapse
// into a single render.
func (s *Service) Export(ctx context.Context, id uuid.UUID, format string, quality int) (ExportResult, error) {
	e, err := s.entry(id)
	if err != nil {
		return ExportResult{}, err
	}

	e.mu.Lock()
	generation := e.session.Generation
	e.mu.Unlock()

	key := fmt.Sprintf("%s:%d:%s:%d", id, generation, format, quality)
	v, err, _ := s.exportGroup.Do(key, func() (any, error) {
		return s.renderExport(e, format, quality)
	})
	if err != nil {
		return ExportResult{}, err
	}
	return v.(ExportResult), nil
}

func (s *Service) renderExport(e *sessionEntry, format string, quality int) (ExportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.SourceImage.IsZero() {
		return ExportResult{}, domain.ErrNoSource
	}

	// The processed cut-out wins once it exists; before that the source
	// itself is exported with the transform applied.
	fgHandle := e.session.SourceImage
	if !e.session.ProcessedImage.IsZero() {
		fgHandle = e.session.ProcessedImage
	}
	fg, ok := e.tracker.Image(fgHandle)
	if !ok {
		return ExportResult{}, domain.ExportFailure(fmt.Errorf("foreground resource released"))
	}

	bg, err := s.resolveBackground(e)
	if err != nil {
		return ExportResult{}, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.cfg.CanvasWidth, s.cfg.CanvasHeight))
	compose.Render(dst, fg, bg, e.session.Transform)

	data, err := export.Encode(dst, format, quality)
	if err != nil {
		return ExportResult{}, err
	}

	e.lastTouched = s.clock.Now()
	return ExportResult{Data: data, ContentType: export.ContentType(format)}, nil
}

func (s *Service) resolveBackground(e *sessionEntry) (compose.Background, error) {
	spec := e.session.Background
	switch spec.Kind {
	case domain.BackgroundColor:
		c, err := compose.ParseHexColor(spec.Color)
		if err != nil {
			return compose.Background{}, domain.ExportFailure(err)
		}
		return compose.Background{Color: c}, nil
	case domain.BackgroundImage:
		img, ok := e.tracker.Image(spec.Image)
		if !ok {
			return compose.Background{}, domain.ExportFailure(fmt.Errorf("background resource released"))
		}
		return compose.Background{Image: img}, nil
	default:
		return compose.Background{}, nil
	}
}
