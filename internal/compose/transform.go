package compose

import (
	"image"

	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
)

// applyTransforms applies the item's clean aperture, rotation, and mirror
// properties in their association order.
func applyTransforms(it *meta.Item, img *pixel.Image) (*pixel.Image, error) {
	var ops []func(*image.NRGBA) (*image.NRGBA, error)
	for _, ref := range it.Properties {
		switch p := ref.Property.Parsed.(type) {
		case *meta.Clap:
			clap := p
			ops = append(ops, func(n *image.NRGBA) (*image.NRGBA, error) {
				return cropCleanAperture(n, clap)
			})
		case *meta.Irot:
			angle := int(p.Angle)
			ops = append(ops, func(n *image.NRGBA) (*image.NRGBA, error) {
				return rotateCCW(n, angle), nil
			})
		case *meta.Imir:
			axis := p.Axis
			ops = append(ops, func(n *image.NRGBA) (*image.NRGBA, error) {
				return mirror(n, axis), nil
			})
		}
	}
	if len(ops) == 0 {
		return img, nil
	}

	n, err := asNRGBA(img)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if n, err = op(n); err != nil {
			return nil, err
		}
	}
	return &pixel.Image{
		Img:           n,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
		Warnings:      img.Warnings,
	}, nil
}

// cropCleanAperture cuts the clap window out of the image. The window is
// specified fractionally and centered relative to the image center.
func cropCleanAperture(n *image.NRGBA, c *meta.Clap) (*image.NRGBA, error) {
	b := n.Bounds()
	w := fracRound(c.WidthN, c.WidthD)
	h := fracRound(c.HeightN, c.HeightD)
	if w <= 0 || h <= 0 || w > b.Dx() || h > b.Dy() {
		return nil, errdefs.Malformed("compose: clean aperture %dx%d outside %dx%d image", w, h, b.Dx(), b.Dy())
	}
	offX := fracRound(c.HorizOffN, c.HorizOffD)
	offY := fracRound(c.VertOffN, c.VertOffD)
	x0 := (b.Dx()-w)/2 + offX
	y0 := (b.Dy()-h)/2 + offY
	if x0 < 0 || y0 < 0 || x0+w > b.Dx() || y0+h > b.Dy() {
		return nil, errdefs.Malformed("compose: clean aperture at (%d, %d) outside %dx%d image", x0, y0, b.Dx(), b.Dy())
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := n.Pix[(y0+y)*n.Stride+x0*4:]
		copy(out.Pix[y*out.Stride:y*out.Stride+w*4], src)
	}
	return out, nil
}

func fracRound(num, den int32) int {
	if den == 0 {
		return 0
	}
	return int(float64(num) / float64(den))
}

// rotateCCW rotates by angle * 90 degrees counter-clockwise.
func rotateCCW(n *image.NRGBA, angle int) *image.NRGBA {
	angle &= 3
	if angle == 0 {
		return n
	}
	b := n.Bounds()
	w, h := b.Dx(), b.Dy()

	var out *image.NRGBA
	if angle == 2 {
		out = image.NewNRGBA(image.Rect(0, 0, w, h))
	} else {
		out = image.NewNRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch angle {
			case 1: // (x, y) -> (y, w-1-x)
				dx, dy = y, w-1-x
			case 2:
				dx, dy = w-1-x, h-1-y
			case 3: // (x, y) -> (h-1-y, x)
				dx, dy = h-1-y, x
			}
			copy(out.Pix[dy*out.Stride+dx*4:dy*out.Stride+dx*4+4], n.Pix[y*n.Stride+x*4:])
		}
	}
	return out
}

// mirror flips across the given axis.
func mirror(n *image.NRGBA, axis meta.MirrorAxis) *image.NRGBA {
	b := n.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if axis == meta.MirrorHorizontal {
		for y := 0; y < h; y++ {
			copy(out.Pix[(h-1-y)*out.Stride:(h-1-y)*out.Stride+w*4], n.Pix[y*n.Stride:y*n.Stride+w*4])
		}
		return out
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			copy(out.Pix[y*out.Stride+(w-1-x)*4:y*out.Stride+(w-1-x)*4+4], n.Pix[y*n.Stride+x*4:])
		}
	}
	return out
}
