// Package imaging is the thin decode boundary around the platform image
// codecs. It is infallible except for malformed input; callers decide which
// failure kind a bad decode maps to.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var ErrEmptyInput = errors.New("empty image data")

// Decode turns raw bytes into a decoded image, reporting the detected format.
// Supported formats: png, jpeg, webp.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyInput
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}
