package pixel

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// ChromaDownsamplingAlgorithm selects how chroma planes are reduced when
// converting RGB to subsampled YCbCr.
type ChromaDownsamplingAlgorithm int

const (
	ChromaDownsamplingNearestNeighbor ChromaDownsamplingAlgorithm = 1
	ChromaDownsamplingAverage         ChromaDownsamplingAlgorithm = 2
	// ChromaDownsamplingSharpYUV requests an edge-preserving reduction.
	// Combine with bilinear upsampling for best quality.
	ChromaDownsamplingSharpYUV ChromaDownsamplingAlgorithm = 3
)

// ChromaUpsamplingAlgorithm selects how subsampled chroma planes are
// expanded when converting YCbCr to RGB.
type ChromaUpsamplingAlgorithm int

const (
	ChromaUpsamplingNearestNeighbor ChromaUpsamplingAlgorithm = 1
	ChromaUpsamplingBilinear        ChromaUpsamplingAlgorithm = 2
)

// ConversionOptions selects the sampling algorithms used by Convert.
// The zero value picks average downsampling and bilinear upsampling.
type ConversionOptions struct {
	PreferredDownsampling ChromaDownsamplingAlgorithm
	PreferredUpsampling   ChromaUpsamplingAlgorithm

	// OnlyUsePreferred forbids substituting a computationally cheaper
	// algorithm for the preferred one. When the preferred algorithm is
	// not available, Convert fails instead of falling back.
	OnlyUsePreferred bool
}

func (o ConversionOptions) downsampling() ChromaDownsamplingAlgorithm {
	if o.PreferredDownsampling == 0 {
		return ChromaDownsamplingAverage
	}
	return o.PreferredDownsampling
}

func (o ConversionOptions) upsampling() ChromaUpsamplingAlgorithm {
	if o.PreferredUpsampling == 0 {
		return ChromaUpsamplingBilinear
	}
	return o.PreferredUpsampling
}

// Convert returns img in the requested colorspace and chroma layout.
// Undefined colorspace or chroma keep the raster's native layout. When no
// conversion is needed, img itself is returned.
func Convert(img *Image, cs Colorspace, chroma Chroma, opts ConversionOptions) (*Image, error) {
	if cs == ColorspaceUndefined {
		cs = img.Colorspace
	}
	if chroma == ChromaUndefined {
		chroma = img.Chroma
	}
	if cs == img.Colorspace && chroma == img.Chroma {
		return img, nil
	}

	switch cs {
	case ColorspaceRGB:
		return toRGB(img, chroma)
	case ColorspaceYCbCr:
		return toYCbCr(img, chroma, opts)
	case ColorspaceMonochrome:
		return toMonochrome(img)
	default:
		return nil, fmt.Errorf("pixel: cannot convert to colorspace %s", cs)
	}
}

func scalerFor(up ChromaUpsamplingAlgorithm) xdraw.Scaler {
	if up == ChromaUpsamplingNearestNeighbor {
		return xdraw.NearestNeighbor
	}
	return xdraw.BiLinear
}

// toRGB converts any supported raster to interleaved RGB(A).
func toRGB(img *Image, chroma Chroma) (*Image, error) {
	if chroma != ChromaInterleavedRGB && chroma != ChromaInterleavedRGBA {
		chroma = ChromaInterleavedRGBA
	}
	b := img.Img.Bounds()
	dst := image.NewNRGBA(b)
	xdraw.Draw(dst, b, img.Img, b.Min, xdraw.Src)
	return &Image{
		Img:           dst,
		Colorspace:    ColorspaceRGB,
		Chroma:        chroma,
		BitsPerSample: 8,
		Warnings:      img.Warnings,
	}, nil
}

// toYCbCr converts a raster to planar YCbCr with the requested subsampling.
func toYCbCr(img *Image, chroma Chroma, opts ConversionOptions) (*Image, error) {
	var ratio image.YCbCrSubsampleRatio
	switch chroma {
	case Chroma420:
		ratio = image.YCbCrSubsampleRatio420
	case Chroma422:
		ratio = image.YCbCrSubsampleRatio422
	case Chroma444, ChromaUndefined:
		ratio = image.YCbCrSubsampleRatio444
		chroma = Chroma444
	default:
		return nil, fmt.Errorf("pixel: cannot convert to YCbCr with chroma %s", chroma)
	}

	down := opts.downsampling()
	if down == ChromaDownsamplingSharpYUV {
		if opts.OnlyUsePreferred {
			return nil, fmt.Errorf("pixel: sharp-YUV downsampling is not available")
		}
		down = ChromaDownsamplingAverage
	}

	b := img.Img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Full-resolution YCbCr first, then reduce the chroma planes.
	full := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio444)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.Img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := rgbToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			full.Y[full.YOffset(x, y)] = yy
			full.Cb[full.COffset(x, y)] = cb
			full.Cr[full.COffset(x, y)] = cr
		}
	}
	if ratio == image.YCbCrSubsampleRatio444 {
		return &Image{Img: full, Colorspace: ColorspaceYCbCr, Chroma: chroma, BitsPerSample: 8, Warnings: img.Warnings}, nil
	}

	out := image.NewYCbCr(image.Rect(0, 0, w, h), ratio)
	copy(out.Y, full.Y)
	cw := chromaPlaneWidth(w, ratio)
	ch := chromaPlaneHeight(h, ratio)
	downsamplePlane(full.Cb, w, h, w, out.Cb, cw, ch, out.CStride, down)
	downsamplePlane(full.Cr, w, h, w, out.Cr, cw, ch, out.CStride, down)
	return &Image{Img: out, Colorspace: ColorspaceYCbCr, Chroma: chroma, BitsPerSample: 8, Warnings: img.Warnings}, nil
}

func toMonochrome(img *Image) (*Image, error) {
	b := img.Img.Bounds()
	dst := image.NewGray(b)
	xdraw.Draw(dst, b, img.Img, b.Min, xdraw.Src)
	return &Image{
		Img:           dst,
		Colorspace:    ColorspaceMonochrome,
		Chroma:        ChromaMonochrome,
		BitsPerSample: 8,
		Warnings:      img.Warnings,
	}, nil
}

func chromaPlaneWidth(w int, r image.YCbCrSubsampleRatio) int {
	switch r {
	case image.YCbCrSubsampleRatio420, image.YCbCrSubsampleRatio422:
		return (w + 1) / 2
	default:
		return w
	}
}

func chromaPlaneHeight(h int, r image.YCbCrSubsampleRatio) int {
	if r == image.YCbCrSubsampleRatio420 {
		return (h + 1) / 2
	}
	return h
}

// downsamplePlane reduces one full-resolution chroma plane into dst.
func downsamplePlane(src []byte, sw, sh, sstride int, dst []byte, dw, dh, dstride int, algo ChromaDownsamplingAlgorithm) {
	sg := &image.Gray{Pix: src, Stride: sstride, Rect: image.Rect(0, 0, sw, sh)}
	dg := &image.Gray{Pix: dst, Stride: dstride, Rect: image.Rect(0, 0, dw, dh)}
	var sc xdraw.Scaler = xdraw.BiLinear
	if algo == ChromaDownsamplingNearestNeighbor {
		sc = xdraw.NearestNeighbor
	}
	sc.Scale(dg, dg.Rect, sg, sg.Rect, xdraw.Src, nil)
}

// UpsampleYCbCr expands a subsampled YCbCr raster to 4:4:4 using the
// requested algorithm. The composition engine calls this before merging
// YCbCr tiles of differing subsampling into one canvas.
func UpsampleYCbCr(src *image.YCbCr, algo ChromaUpsamplingAlgorithm) *image.YCbCr {
	if src.SubsampleRatio == image.YCbCrSubsampleRatio444 {
		return src
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio444)
	for y := 0; y < h; y++ {
		copy(out.Y[y*out.YStride:y*out.YStride+w], src.Y[y*src.YStride:y*src.YStride+w])
	}
	cw := chromaPlaneWidth(w, src.SubsampleRatio)
	ch := chromaPlaneHeight(h, src.SubsampleRatio)
	sc := scalerFor(algo)
	for _, planes := range [][2][]byte{{src.Cb, out.Cb}, {src.Cr, out.Cr}} {
		sg := &image.Gray{Pix: planes[0], Stride: src.CStride, Rect: image.Rect(0, 0, cw, ch)}
		dg := &image.Gray{Pix: planes[1], Stride: out.CStride, Rect: image.Rect(0, 0, w, h)}
		sc.Scale(dg, dg.Rect, sg, sg.Rect, xdraw.Src, nil)
	}
	return out
}

// rgbToYCbCr is the BT.601 full-range conversion used across the module.
func rgbToYCbCr(r, g, b uint8) (uint8, uint8, uint8) {
	rr, gg, bb := int32(r), int32(g), int32(b)
	yy := (19595*rr + 38470*gg + 7471*bb + 1<<15) >> 16
	cb := (-11056*rr - 21712*gg + 32768*bb + 1<<15) >> 16
	cr := (32768*rr - 27440*gg - 5328*bb + 1<<15) >> 16
	return clamp8(yy), clamp8(cb + 128), clamp8(cr + 128)
}

func clamp8(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
