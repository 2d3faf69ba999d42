package domain

// BackgroundKind selects the active background variant.
type BackgroundKind int

const (
	BackgroundNone BackgroundKind = iota
	BackgroundColor
	BackgroundImage
)

func (k BackgroundKind) String() string {
	switch k {
	case BackgroundColor:
		return "color"
	case BackgroundImage:
		return "image"
	default:
		return "none"
	}
}

// BackgroundSpec is a tagged variant: no background, a solid color, or a
// background image. Exactly one is active; setting one clears the others.
type BackgroundSpec struct {
	Kind  BackgroundKind
	Color string
	Image Handle
}

func NoBackground() BackgroundSpec {
	return BackgroundSpec{Kind: BackgroundNone}
}

func ColorBackground(hex string) BackgroundSpec {
	return BackgroundSpec{Kind: BackgroundColor, Color: hex}
}

func ImageBackground(h Handle) BackgroundSpec {
	return BackgroundSpec{Kind: BackgroundImage, Image: h}
}
