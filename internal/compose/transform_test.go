package compose

import (
	"image"
	"image/color"
	"testing"

	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
)

// raster builds a w x h image whose red channel encodes the pixel position
// as 16*y + x.
func raster(w, h int) *image.NRGBA {
	n := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n.SetNRGBA(x, y, color.NRGBA{R: uint8(16*y + x), A: 255})
		}
	}
	return n
}

func red(n *image.NRGBA, x, y int) uint8 { return n.NRGBAAt(x, y).R }

func TestRotateCCW(t *testing.T) {
	src := raster(3, 2)

	r1 := rotateCCW(src, 1)
	if b := r1.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("90 degrees: %dx%d, want 2x3", b.Dx(), b.Dy())
	}
	// The top-right source pixel lands in the top-left corner.
	if got := red(r1, 0, 0); got != red(src, 2, 0) {
		t.Errorf("90 degrees corner = %d, want %d", got, red(src, 2, 0))
	}

	r2 := rotateCCW(src, 2)
	if got := red(r2, 0, 0); got != red(src, 2, 1) {
		t.Errorf("180 degrees corner = %d, want %d", got, red(src, 2, 1))
	}

	r3 := rotateCCW(src, 3)
	if b := r3.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("270 degrees: %dx%d, want 2x3", b.Dx(), b.Dy())
	}
	if got := red(r3, 0, 0); got != red(src, 0, 1) {
		t.Errorf("270 degrees corner = %d, want %d", got, red(src, 0, 1))
	}

	if rotateCCW(src, 0) != src {
		t.Error("zero rotation should return the input unchanged")
	}
	if got := red(rotateCCW(src, 4+1), 0, 0); got != red(r1, 0, 0) {
		t.Error("angle should be taken modulo 4")
	}
}

func TestMirror(t *testing.T) {
	src := raster(3, 2)

	v := mirror(src, meta.MirrorVertical)
	if got := red(v, 0, 0); got != red(src, 2, 0) {
		t.Errorf("vertical axis = %d, want left-right flip (%d)", got, red(src, 2, 0))
	}
	h := mirror(src, meta.MirrorHorizontal)
	if got := red(h, 0, 0); got != red(src, 0, 1) {
		t.Errorf("horizontal axis = %d, want top-bottom flip (%d)", got, red(src, 0, 1))
	}
}

func TestCropCleanAperture(t *testing.T) {
	src := raster(4, 4)
	c := &meta.Clap{
		WidthN: 2, WidthD: 1,
		HeightN: 2, HeightD: 1,
		HorizOffN: 0, HorizOffD: 1,
		VertOffN: 0, VertOffD: 1,
	}
	out, err := cropCleanAperture(src, c)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Fatalf("crop = %dx%d, want 2x2", b.Dx(), b.Dy())
	}
	// A centered 2x2 window of a 4x4 image starts at (1, 1).
	if got := red(out, 0, 0); got != red(src, 1, 1) {
		t.Errorf("crop origin = %d, want %d", got, red(src, 1, 1))
	}

	c.WidthN = 8
	if _, err := cropCleanAperture(src, c); !errdefs.IsMalformedInput(err) {
		t.Errorf("oversized window: %v, want malformed input", err)
	}

	c.WidthN = 2
	c.HorizOffN = 5
	if _, err := cropCleanAperture(src, c); !errdefs.IsMalformedInput(err) {
		t.Errorf("window outside the image: %v, want malformed input", err)
	}
}

func TestApplyTransformsOrder(t *testing.T) {
	// Rotation then mirror differs from mirror then rotation; the
	// association order decides.
	rot := &meta.Property{Type: meta.PropIrot, Parsed: &meta.Irot{Angle: 1}}
	mir := &meta.Property{Type: meta.PropImir, Parsed: &meta.Imir{Axis: meta.MirrorVertical}}
	it := &meta.Item{Properties: []meta.PropertyRef{
		{Property: rot}, {Property: mir},
	}}

	src := raster(3, 2)
	img := &pixel.Image{Img: src, Colorspace: pixel.ColorspaceRGB, Chroma: pixel.ChromaInterleavedRGBA, BitsPerSample: 8}
	out, err := applyTransforms(it, img)
	if err != nil {
		t.Fatalf("applyTransforms: %v", err)
	}
	want := mirror(rotateCCW(src, 1), meta.MirrorVertical)
	got := out.Img.(*image.NRGBA)
	if got.Bounds() != want.Bounds() || red(got, 0, 0) != red(want, 0, 0) {
		t.Error("transforms were not applied in association order")
	}
}

func TestApplyTransformsNoOps(t *testing.T) {
	it := &meta.Item{}
	src := raster(2, 2)
	img := &pixel.Image{Img: src, Colorspace: pixel.ColorspaceRGB, Chroma: pixel.ChromaInterleavedRGBA, BitsPerSample: 8}
	out, err := applyTransforms(it, img)
	if err != nil {
		t.Fatalf("applyTransforms: %v", err)
	}
	if out != img {
		t.Error("no transform properties should return the input unchanged")
	}
}
