// Package export serializes a composed surface into an output byte stream.
// It is a stateless pass-through to the platform encoders; a failed export is
// never retried internally, the caller re-triggers it.
package export

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/metrics"
)

const defaultJPEGQuality = 90

// Encode serializes img in the requested format. Quality applies to jpeg
// only and is clamped to [1, 100]; zero means the default.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			metrics.ExportsTotal.WithLabelValues(format, "error").Inc()
			return nil, domain.ExportFailure(err)
		}
	case "jpeg", "jpg":
		if quality <= 0 {
			quality = defaultJPEGQuality
		}
		if quality > 100 {
			quality = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			metrics.ExportsTotal.WithLabelValues("jpeg", "error").Inc()
			return nil, domain.ExportFailure(err)
		}
	default:
		return nil, domain.ExportFailure(fmt.Errorf("unsupported export format %q", format))
	}

	metrics.ExportsTotal.WithLabelValues(format, "ok").Inc()
	return buf.Bytes(), nil
}

// ContentType maps an export format to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
