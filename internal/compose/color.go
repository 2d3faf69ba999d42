package compose

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/cutoutlab/cutout/internal/domain"
)

// ParseHexColor parses #rgb, #rrggbb, and #rrggbbaa background colors.
func ParseHexColor(s string) (color.RGBA, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return color.RGBA{}, domain.ErrInvalidColor
	}

	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	var alpha uint8 = 0xff
	switch len(hex) {
	case 6:
	case 8:
		a, err := strconv.ParseUint(hex[6:8], 16, 8)
		if err != nil {
			return color.RGBA{}, domain.ErrInvalidColor
		}
		alpha = uint8(a)
		hex = hex[:6]
	default:
		return color.RGBA{}, domain.ErrInvalidColor
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, domain.ErrInvalidColor
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: alpha}, nil
}
