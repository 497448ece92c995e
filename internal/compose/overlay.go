package compose

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
)

// Overlay describes an iovl item: a background color, a canvas size, and one
// signed placement offset per referenced image.
type Overlay struct {
	Background [4]uint16 // RGBA, 16-bit channels
	Width      uint32
	Height     uint32
	Offsets    []OverlayOffset
}

// OverlayOffset places one overlay member on the canvas. Offsets may be
// negative or beyond the canvas; only the intersecting region is drawn.
type OverlayOffset struct {
	X int32
	Y int32
}

// ParseOverlay decodes an iovl item's descriptor payload. The member count
// comes from the item's derivation references, recorded separately from the
// payload.
func ParseOverlay(data []byte, members int) (*Overlay, error) {
	c := bmff.NewCursor(data)
	version := c.Uint8()
	flags := c.Uint8()
	if c.Err() == nil && version != 0 {
		return nil, errdefs.Malformed("compose: overlay descriptor version %d is not supported", version)
	}
	o := &Overlay{}
	for i := range o.Background {
		o.Background[i] = c.Uint16()
	}
	wide := flags&1 != 0
	if wide {
		o.Width = c.Uint32()
		o.Height = c.Uint32()
	} else {
		o.Width = uint32(c.Uint16())
		o.Height = uint32(c.Uint16())
	}
	o.Offsets = make([]OverlayOffset, members)
	for i := range o.Offsets {
		if wide {
			o.Offsets[i] = OverlayOffset{X: c.Int32(), Y: c.Int32()}
		} else {
			o.Offsets[i] = OverlayOffset{X: int32(int16(c.Uint16())), Y: int32(int16(c.Uint16()))}
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if o.Width == 0 || o.Height == 0 {
		return nil, errdefs.Malformed("compose: overlay canvas %dx%d", o.Width, o.Height)
	}
	return o, nil
}

func (e *Engine) decodeOverlay(ctx context.Context, it *meta.Item, opts Options, depth int) (*pixel.Image, error) {
	members := e.Graph.ReferencesFrom(meta.RefDerived, it.ID)
	if len(members) == 0 {
		return nil, errdefs.Malformed("compose: overlay item %d has no sources", it.ID)
	}
	data, err := e.Graph.ReadData(it)
	if err != nil {
		return nil, err
	}
	ovl, err := ParseOverlay(data, len(members))
	if err != nil {
		return nil, err
	}
	if err := e.Limits.CheckImageSize(uint64(ovl.Width), uint64(ovl.Height)); err != nil {
		return nil, err
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, int(ovl.Width), int(ovl.Height)))
	bg := color.NRGBA64{
		R: ovl.Background[0],
		G: ovl.Background[1],
		B: ovl.Background[2],
		A: ovl.Background[3],
	}
	draw.Draw(canvas, canvas.Rect, image.NewUniform(bg), image.Point{}, draw.Src)

	// Members composite in reference order, later ones over earlier ones.
	sub := opts
	sub.Progress = nil
	sub.TargetColorspace = pixel.ColorspaceUndefined
	for i, id := range members {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		img, err := e.decode(ctx, id, sub, depth+1)
		if err != nil {
			return nil, err
		}
		member, err := asNRGBA(img)
		if err != nil {
			return nil, err
		}
		off := ovl.Offsets[i]
		mb := member.Bounds()
		dst := image.Rect(int(off.X), int(off.Y), int(off.X)+mb.Dx(), int(off.Y)+mb.Dy())
		draw.Draw(canvas, dst, member, mb.Min, draw.Over)
	}

	return &pixel.Image{
		Img:           canvas,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
	}, nil
}
