// Package pixel defines the raster model shared by the codec plugins and the
// composition engine: a decoded image together with its colorspace and
// chroma layout, plus the color-conversion stage that moves rasters between
// layouts.
//
// Pixel data is carried in standard library image types (image.NRGBA,
// image.YCbCr, image.Gray); this package adds the container-level metadata
// the standard types do not express.
package pixel

import "image"

// Colorspace identifies the color model of a raster.
type Colorspace int

const (
	ColorspaceUndefined Colorspace = iota
	ColorspaceYCbCr
	ColorspaceRGB
	ColorspaceMonochrome
)

func (c Colorspace) String() string {
	switch c {
	case ColorspaceYCbCr:
		return "YCbCr"
	case ColorspaceRGB:
		return "RGB"
	case ColorspaceMonochrome:
		return "monochrome"
	default:
		return "undefined"
	}
}

// Chroma identifies the chroma layout of a raster.
type Chroma int

const (
	ChromaUndefined Chroma = iota
	ChromaMonochrome
	Chroma420
	Chroma422
	Chroma444
	ChromaInterleavedRGB
	ChromaInterleavedRGBA
)

func (c Chroma) String() string {
	switch c {
	case ChromaMonochrome:
		return "monochrome"
	case Chroma420:
		return "4:2:0"
	case Chroma422:
		return "4:2:2"
	case Chroma444:
		return "4:4:4"
	case ChromaInterleavedRGB:
		return "interleaved RGB"
	case ChromaInterleavedRGBA:
		return "interleaved RGBA"
	default:
		return "undefined"
	}
}

// HasAlpha reports whether the chroma layout carries an alpha channel.
func (c Chroma) HasAlpha() bool { return c == ChromaInterleavedRGBA }

// Warning is a non-fatal finding attached to a decode result, for example a
// tile replaced by a placeholder in best-effort mode. Strict decoding
// escalates warnings into hard errors.
type Warning struct {
	Message string
}

func (w Warning) String() string { return w.Message }

// Image is a decoded raster plus its container-level format description.
type Image struct {
	// Img holds the pixels. The concrete type matches the layout:
	// *image.YCbCr for YCbCr chroma, *image.NRGBA for interleaved RGB(A),
	// *image.Gray for monochrome.
	Img image.Image

	Colorspace Colorspace
	Chroma     Chroma

	// BitsPerSample is the per-channel bit depth, usually 8.
	BitsPerSample int

	// PremultipliedAlpha records whether RGB samples are premultiplied.
	PremultipliedAlpha bool

	// Warnings collected while producing this raster.
	Warnings []Warning
}
