// Package rawcodec implements the built-in uncompressed codec plugin.
//
// Samples are stored interleaved and unfiltered, so encode followed by
// decode reproduces a raster bit-exactly. The plugin registers itself with
// the default registry at a low priority; an external plugin for the same
// format can outrank it.
//
// The coded layout is a 12-byte configuration record (stored as the item's
// codec configuration property) followed by the raw samples:
//
//	config: version(1) colorspace(1) chroma(1) bits(1) width(4) height(4)
//	coded:  rows of interleaved samples, top to bottom, no padding
package rawcodec

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"

	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/pixel"
)

// PluginID identifies the built-in plugin in the registry.
const PluginID = "builtin.raw"

const (
	configSize    = 12
	configVersion = 1
)

func init() {
	codec.Default.RegisterDecoder(rawDecoder{})
	codec.Default.RegisterEncoder(rawEncoder{})
}

type rawDecoder struct{}

func (rawDecoder) Format() codec.Format { return codec.FormatUncompressed }
func (rawDecoder) ID() string           { return PluginID }
func (rawDecoder) Priority() int        { return 10 }

func (rawDecoder) Decode(coded, config []byte, params codec.DecodeParams) (*pixel.Image, error) {
	if len(config) < configSize {
		return nil, fmt.Errorf("rawcodec: configuration record of %d bytes too short: %w", len(config), errdefs.ErrCodecFailure)
	}
	if config[0] != configVersion {
		return nil, fmt.Errorf("rawcodec: unknown configuration version %d: %w", config[0], errdefs.ErrCodecFailure)
	}
	chroma := pixel.Chroma(config[2])
	bits := int(config[3])
	width := int(binary.BigEndian.Uint32(config[4:8]))
	height := int(binary.BigEndian.Uint32(config[8:12]))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("rawcodec: invalid dimensions %dx%d: %w", width, height, errdefs.ErrCodecFailure)
	}
	if bits != 8 {
		return nil, fmt.Errorf("rawcodec: unsupported bit depth %d: %w", bits, errdefs.ErrCodecFailure)
	}

	var channels int
	switch chroma {
	case pixel.ChromaInterleavedRGBA:
		channels = 4
	case pixel.ChromaInterleavedRGB:
		channels = 3
	case pixel.ChromaMonochrome:
		channels = 1
	default:
		return nil, fmt.Errorf("rawcodec: unsupported chroma %s: %w", chroma, errdefs.ErrCodecFailure)
	}
	need := width * height * channels
	if len(coded) < need {
		return nil, fmt.Errorf("rawcodec: %d coded bytes for %dx%dx%d raster: %w", len(coded), width, height, channels, errdefs.ErrCodecFailure)
	}

	switch chroma {
	case pixel.ChromaMonochrome:
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+width], coded[y*width:])
		}
		return &pixel.Image{Img: img, Colorspace: pixel.ColorspaceMonochrome, Chroma: chroma, BitsPerSample: 8}, nil
	case pixel.ChromaInterleavedRGB:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			src := coded[y*width*3:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < width; x++ {
				dst[x*4+0] = src[x*3+0]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 0xff
			}
		}
		return &pixel.Image{Img: img, Colorspace: pixel.ColorspaceRGB, Chroma: chroma, BitsPerSample: 8}, nil
	default: // interleaved RGBA
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+width*4], coded[y*width*4:])
		}
		return &pixel.Image{Img: img, Colorspace: pixel.ColorspaceRGB, Chroma: chroma, BitsPerSample: 8}, nil
	}
}

type rawEncoder struct{}

func (rawEncoder) Format() codec.Format { return codec.FormatUncompressed }
func (rawEncoder) ID() string           { return PluginID }
func (rawEncoder) Priority() int        { return 10 }

func (rawEncoder) ParamSpecs() []codec.ParamSpec {
	return []codec.ParamSpec{
		{Name: "alpha", Type: codec.ParamTypeBoolean},
	}
}

func (e rawEncoder) Encode(img *pixel.Image, params codec.Params) (codec.EncodeResult, error) {
	if err := params.Validate(e.ParamSpecs()); err != nil {
		return codec.EncodeResult{}, err
	}
	withAlpha := true
	if v, ok := params["alpha"].(bool); ok {
		withAlpha = v
	}

	b := img.Img.Bounds()
	width, height := b.Dx(), b.Dy()

	chroma := pixel.ChromaInterleavedRGBA
	channels := 4
	if !withAlpha {
		chroma = pixel.ChromaInterleavedRGB
		channels = 3
	}
	if gray, ok := img.Img.(*image.Gray); ok {
		chroma = pixel.ChromaMonochrome
		channels = 1
		coded := make([]byte, width*height)
		for y := 0; y < height; y++ {
			copy(coded[y*width:], gray.Pix[y*gray.Stride:y*gray.Stride+width])
		}
		return codec.EncodeResult{Coded: coded, Config: buildConfig(chroma, width, height)}, nil
	}

	rgb, err := pixel.Convert(img, pixel.ColorspaceRGB, pixel.ChromaInterleavedRGBA, pixel.ConversionOptions{})
	if err != nil {
		return codec.EncodeResult{}, err
	}
	nrgba, ok := rgb.Img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(nrgba, nrgba.Rect, rgb.Img, b.Min, draw.Src)
	}
	coded := make([]byte, width*height*channels)
	for y := 0; y < height; y++ {
		src := nrgba.Pix[y*nrgba.Stride:]
		dst := coded[y*width*channels:]
		if withAlpha {
			copy(dst[:width*4], src)
			continue
		}
		for x := 0; x < width; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return codec.EncodeResult{Coded: coded, Config: buildConfig(chroma, width, height)}, nil
}

func buildConfig(chroma pixel.Chroma, width, height int) []byte {
	config := make([]byte, configSize)
	config[0] = configVersion
	switch chroma {
	case pixel.ChromaMonochrome:
		config[1] = byte(pixel.ColorspaceMonochrome)
	default:
		config[1] = byte(pixel.ColorspaceRGB)
	}
	config[2] = byte(chroma)
	config[3] = 8
	binary.BigEndian.PutUint32(config[4:8], uint32(width))
	binary.BigEndian.PutUint32(config[8:12], uint32(height))
	return config
}
