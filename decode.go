package heif

import (
	"image"
	"image/draw"

	"github.com/ooopus/libheif/pixel"
)

// DecodeOptions controls how an image handle is decoded. The zero value
// decodes with transforms applied, the decoder's native pixel layout, and no
// alpha flattening.
type DecodeOptions struct {
	// TargetColorspace and TargetChroma request a pixel layout for the
	// result. Undefined keeps whatever the codec and composition produce.
	TargetColorspace pixel.Colorspace
	TargetChroma     pixel.Chroma

	// ColorConversion tunes chroma resampling when a layout conversion is
	// needed to satisfy the target.
	ColorConversion pixel.ConversionOptions

	// IgnoreTransformations skips the crop, rotation, and mirror
	// properties and returns the raster as coded.
	IgnoreTransformations bool

	// ConvertHDRTo8Bit reduces rasters deeper than 8 bits per sample.
	ConvertHDRTo8Bit bool

	// StrictDecoding turns recoverable bitstream problems into errors
	// instead of warnings.
	StrictDecoding bool

	// DecoderID pins decoding to the plugin with this id. Empty selects
	// the highest-priority plugin for the item's format.
	DecoderID string

	// BestEffortTiles substitutes a placeholder for tiles of a grid that
	// fail to decode, attaching a warning per replaced tile, instead of
	// failing the whole image. Security-limit violations still fail.
	BestEffortTiles bool

	// PlaceholderColor overrides the best-effort placeholder fill, as
	// RGBA. Nil selects opaque mid-gray.
	PlaceholderColor *[4]uint8

	// Background flattens the alpha channel onto a solid color or
	// checkerboard after decoding.
	Background pixel.BackgroundOptions

	// OnProgress, when non-nil, is called after each decoded tile of a
	// grid with the count done and the total. It may be called from
	// multiple goroutines.
	OnProgress func(done, total int)
}

// reduceTo8Bit resamples a deep raster into 8-bit NRGBA.
func reduceTo8Bit(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}
