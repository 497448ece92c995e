package heif

import (
	"context"
	"image"
	"image/color"
	"io"

	"github.com/ooopus/libheif/bmff"
	_ "github.com/ooopus/libheif/codec/rawcodec" // built-in uncompressed codec
	"github.com/ooopus/libheif/errdefs"
)

// File brands this module reads.
var (
	BrandHeic = bmff.FCC("heic")
	BrandHeix = bmff.FCC("heix")
	BrandHevc = bmff.FCC("hevc")
	BrandMif1 = bmff.FCC("mif1")
	BrandMsf1 = bmff.FCC("msf1")
	BrandAvif = bmff.FCC("avif")
	BrandAvis = bmff.FCC("avis")
)

var supportedBrands = map[bmff.FourCC]bool{
	BrandHeic: true,
	BrandHeix: true,
	BrandHevc: true,
	BrandMif1: true,
	BrandMsf1: true,
	BrandAvif: true,
	BrandAvis: true,
}

func brandSupported(major bmff.FourCC, compatible []bmff.FourCC) bool {
	if supportedBrands[major] {
		return true
	}
	for _, b := range compatible {
		if supportedBrands[b] {
			return true
		}
	}
	return false
}

// ReadMainBrand returns the major brand of the file starting in data.
// Twelve bytes suffice.
func ReadMainBrand(data []byte) (bmff.FourCC, error) {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return bmff.FourCC{}, errdefs.Malformed("heif: data does not start with a file-type box")
	}
	var b bmff.FourCC
	copy(b[:], data[8:12])
	return b, nil
}

// ListCompatibleBrands returns the compatible-brand list of the file
// starting in data.
func ListCompatibleBrands(data []byte) ([]bmff.FourCC, error) {
	if len(data) < 16 || string(data[4:8]) != "ftyp" {
		return nil, errdefs.Malformed("heif: data does not start with a file-type box")
	}
	size := int(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
	if size < 16 || size > len(data) {
		size = len(data)
	}
	var out []bmff.FourCC
	for off := 16; off+4 <= size; off += 4 {
		var b bmff.FourCC
		copy(b[:], data[off:off+4])
		out = append(out, b)
	}
	return out, nil
}

// MimeType sniffs the media type of the file starting in data. It returns
// the empty string when data is not a recognized container.
func MimeType(data []byte) string {
	major, err := ReadMainBrand(data)
	if err != nil {
		return ""
	}
	switch major {
	case BrandHeic, BrandHeix:
		return "image/heic"
	case BrandHevc:
		return "image/heic-sequence"
	case BrandAvif:
		return "image/avif"
	case BrandAvis:
		return "image/avif-sequence"
	case BrandMif1:
		return "image/heif"
	case BrandMsf1:
		return "image/heif-sequence"
	default:
		return ""
	}
}

// Decode reads a HEIF or AVIF file from r and returns its primary image.
// Transforms are applied; the pixel layout follows the codec's output.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	c := NewContext()
	if err := c.ReadFromMemory(data); err != nil {
		return nil, err
	}
	primary, err := c.PrimaryImage()
	if err != nil {
		return nil, err
	}
	img, err := primary.Decode(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	return img.Img, nil
}

// DecodeConfig returns the dimensions and color model of the primary image
// without decoding pixels.
func DecodeConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, err
	}
	c := NewContext()
	if err := c.ReadFromMemory(data); err != nil {
		return image.Config{}, err
	}
	primary, err := c.PrimaryImage()
	if err != nil {
		return image.Config{}, err
	}
	w, h, ok := primary.Dimensions()
	if !ok {
		return image.Config{}, errdefs.Malformed("heif: primary image has no spatial extents")
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      int(w),
		Height:     int(h),
	}, nil
}

func init() {
	image.RegisterFormat("heif", "????ftyp", Decode, DecodeConfig)
}
