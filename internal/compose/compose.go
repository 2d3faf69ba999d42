// Package compose renders the editing surface: background first, then the
// foreground subject with its transform applied.
package compose

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/cutoutlab/cutout/internal/domain"
)

// Background is the resolved form of a domain.BackgroundSpec: at most one of
// Color or Image is set.
type Background struct {
	Color color.Color
	Image image.Image
}

// DefaultTransform fits the image into the canvas without ever upscaling and
// positions it at the canvas center.
func DefaultTransform(imgW, imgH, canvasW, canvasH int) domain.Transform {
	scale := math.Min(float64(canvasW)/float64(imgW), float64(canvasH)/float64(imgH))
	scale = math.Min(scale, 1)
	return domain.Transform{
		X:     float64(canvasW) / 2,
		Y:     float64(canvasH) / 2,
		Scale: scale,
	}
}

// Render recomposes the surface: clear, background, then the foreground with
// scale and rotation applied.
//
// Two long-standing quirks are kept deliberately: a background image is
// stretched to exactly fill the surface (aspect ratio is not preserved), and
// the foreground is re-centered on every full recompose, so the transform's
// X/Y offsets do not survive a recompose.
func Render(dst *image.RGBA, fg image.Image, bg Background, t domain.Transform) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.Transparent, image.Point{}, draw.Src)

	switch {
	case bg.Color != nil:
		draw.Draw(dst, bounds, image.NewUniform(bg.Color), image.Point{}, draw.Src)
	case bg.Image != nil:
		xdraw.ApproxBiLinear.Scale(dst, bounds, bg.Image, bg.Image.Bounds(), xdraw.Src, nil)
	}

	if fg == nil {
		return
	}

	xdraw.BiLinear.Transform(dst, centerAffine(fg.Bounds(), bounds, t), fg, fg.Bounds(), xdraw.Over, nil)
}

// centerAffine maps the foreground onto the surface: scale and rotate about
// the foreground's own center, then translate that center onto the surface
// center.
func centerAffine(src image.Rectangle, dst image.Rectangle, t domain.Transform) f64.Aff3 {
	theta := t.Rotation * math.Pi / 180
	cos := math.Cos(theta) * t.Scale
	sin := math.Sin(theta) * t.Scale

	scx := float64(src.Min.X) + float64(src.Dx())/2
	scy := float64(src.Min.Y) + float64(src.Dy())/2
	dcx := float64(dst.Min.X) + float64(dst.Dx())/2
	dcy := float64(dst.Min.Y) + float64(dst.Dy())/2

	return f64.Aff3{
		cos, -sin, dcx - (cos*scx - sin*scy),
		sin, cos, dcy - (sin*scx + cos*scy),
	}
}
