package pixel

import (
	"image"
	"image/color"
	"image/draw"
)

// AlphaCompositionMode selects what transparent regions are composed onto
// when alpha is flattened away.
type AlphaCompositionMode int

const (
	// AlphaCompositionNone keeps the alpha channel as decoded.
	AlphaCompositionNone AlphaCompositionMode = iota
	// AlphaCompositionSolidColor composes onto a single background color.
	AlphaCompositionSolidColor
	// AlphaCompositionCheckerboard composes onto a two-color
	// checkerboard pattern.
	AlphaCompositionCheckerboard
)

// BackgroundOptions configures alpha flattening. Color channel values use
// the full 16-bit range.
type BackgroundOptions struct {
	Mode AlphaCompositionMode

	Red, Green, Blue                            uint16
	SecondaryRed, SecondaryGreen, SecondaryBlue uint16

	// CheckerboardSquareSize is the square edge length in pixels;
	// zero selects 16.
	CheckerboardSquareSize uint16
}

// checkerboard is an infinite two-color pattern implementing image.Image.
type checkerboard struct {
	a, b   color.NRGBA64
	square int
}

func (c *checkerboard) ColorModel() color.Model { return color.NRGBA64Model }
func (c *checkerboard) Bounds() image.Rectangle {
	return image.Rect(-1e9, -1e9, 1e9, 1e9)
}
func (c *checkerboard) At(x, y int) color.Color {
	if ((x/c.square)+(y/c.square))%2 == 0 {
		return c.a
	}
	return c.b
}

// FlattenAlpha draws img over the configured background and returns an
// opaque raster. With mode AlphaCompositionNone, img is returned unchanged.
func FlattenAlpha(img image.Image, opts BackgroundOptions) image.Image {
	if opts.Mode == AlphaCompositionNone {
		return img
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	primary := color.NRGBA64{R: opts.Red, G: opts.Green, B: opts.Blue, A: 0xffff}
	switch opts.Mode {
	case AlphaCompositionSolidColor:
		draw.Draw(dst, b, image.NewUniform(primary), image.Point{}, draw.Src)
	case AlphaCompositionCheckerboard:
		square := int(opts.CheckerboardSquareSize)
		if square == 0 {
			square = 16
		}
		secondary := color.NRGBA64{
			R: opts.SecondaryRed, G: opts.SecondaryGreen, B: opts.SecondaryBlue, A: 0xffff,
		}
		draw.Draw(dst, b, &checkerboard{a: primary, b: secondary, square: square}, b.Min, draw.Src)
	}
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
