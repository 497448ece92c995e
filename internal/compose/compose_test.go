package compose

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
	"github.com/ooopus/libheif/security"
	"github.com/ooopus/libheif/stream"
)

// stubDecoder decodes one-byte payloads into solid 2x2 rasters whose red
// channel is the payload byte. A payload of 0xff fails.
type stubDecoder struct{}

func (stubDecoder) Format() codec.Format { return codec.FormatUncompressed }
func (stubDecoder) ID() string           { return "stub" }
func (stubDecoder) Priority() int        { return 100 }

func (stubDecoder) Decode(coded, config []byte, params codec.DecodeParams) (*pixel.Image, error) {
	if len(coded) == 0 || coded[0] == 0xff {
		return nil, errors.New("stub: refusing payload")
	}
	n := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(n.Pix); i += 4 {
		n.Pix[i+0] = coded[0]
		n.Pix[i+1] = 100
		n.Pix[i+2] = 200
		n.Pix[i+3] = 255
	}
	return &pixel.Image{
		Img:           n,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
	}, nil
}

// newTestEngine parses a meta box built by fn and wraps it in an engine
// backed by the stub decoder.
func newTestEngine(t *testing.T, fn func(*bmff.Builder)) *Engine {
	t.Helper()
	b := bmff.NewBuilder()
	b.FullBox(bmff.TypeMeta, 0, 0, fn)
	data := b.Bytes()

	limits := security.Global()
	r := bmff.NewReader(stream.NewMemoryReader(data), &limits)
	metaBox, err := r.ReadBoxAt(0, int64(len(data)))
	if err != nil {
		t.Fatalf("reading meta box: %v", err)
	}
	g, err := meta.Parse(r, metaBox)
	if err != nil {
		t.Fatalf("meta.Parse: %v", err)
	}

	reg := codec.NewRegistry()
	reg.RegisterDecoder(stubDecoder{})
	return &Engine{Graph: g, Registry: reg, Limits: r.Limits()}
}

func writeHdlr(p *bmff.Builder) {
	p.FullBox(bmff.TypeHdlr, 0, 0, func(h *bmff.Builder) {
		h.U32(0)
		h.FourCC(bmff.FCC("pict"))
		h.U32(0)
		h.U32(0)
		h.U32(0)
		h.CString("")
	})
}

func writeIinf(p *bmff.Builder, items map[uint16]string, order []uint16) {
	p.FullBox(bmff.TypeIinf, 0, 0, func(h *bmff.Builder) {
		h.U16(uint16(len(order)))
		for _, id := range order {
			h.FullBox(bmff.TypeInfe, 2, 0, func(e *bmff.Builder) {
				e.U16(id)
				e.U16(0)
				e.FourCC(bmff.FCC(items[id]))
				e.CString("")
			})
		}
	})
}

// writeIlocIdat writes a version 1 location table placing each item's data
// inside the idat at the given [offset, offset+length) ranges.
func writeIlocIdat(p *bmff.Builder, entries []struct{ id, off, length uint16 }) {
	p.FullBox(bmff.TypeIloc, 1, 0, func(h *bmff.Builder) {
		h.U8(0x44)
		h.U8(0x00)
		h.U16(uint16(len(entries)))
		for _, e := range entries {
			h.U16(e.id)
			h.U16(1) // idat construction
			h.U16(0)
			h.U16(1)
			h.U32(uint32(e.off))
			h.U32(uint32(e.length))
		}
	})
}

func writeDimg(p *bmff.Builder, from uint16, to ...uint16) {
	p.FullBox(bmff.TypeIref, 0, 0, func(h *bmff.Builder) {
		h.Box(meta.RefDerived, func(rb *bmff.Builder) {
			rb.U16(from)
			rb.U16(uint16(len(to)))
			for _, t := range to {
				rb.U16(t)
			}
		})
	})
}

// writeIspeFor associates one 2x2 ispe property with the given items.
func writeIspeFor(p *bmff.Builder, ids ...uint16) {
	p.Box(bmff.TypeIprp, func(h *bmff.Builder) {
		h.Box(bmff.TypeIpco, func(co *bmff.Builder) {
			co.FullBox(meta.PropIspe, 0, 0, func(pb *bmff.Builder) {
				pb.U32(2)
				pb.U32(2)
			})
		})
		h.FullBox(bmff.TypeIpma, 0, 0, func(a *bmff.Builder) {
			a.U32(uint32(len(ids)))
			for _, id := range ids {
				a.U16(id)
				a.U8(1)
				a.U8(1)
			}
		})
	})
}

// gridFixture builds a 2x2 grid of 2x2 stub tiles on a 3x3 canvas. The last
// row and column are cropped. Tile payload bytes are 10, 20, 30 and lastTile.
func gridFixture(t *testing.T, lastTile byte) *Engine {
	return newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "grid", 2: "unci", 3: "unci", 4: "unci", 5: "unci"},
			[]uint16{1, 2, 3, 4, 5})
		p.Box(bmff.TypeIdat, func(h *bmff.Builder) {
			// Grid descriptor: 2 rows, 2 columns, 3x3 canvas.
			h.Raw([]byte{0, 0, 1, 1, 0, 3, 0, 3})
			h.Raw([]byte{10, 20, 30, lastTile})
		})
		writeIlocIdat(p, []struct{ id, off, length uint16 }{
			{1, 0, 8}, {2, 8, 1}, {3, 9, 1}, {4, 10, 1}, {5, 11, 1},
		})
		writeDimg(p, 1, 2, 3, 4, 5)
		writeIspeFor(p, 2, 3, 4, 5)
	})
}

func TestDecodeGrid(t *testing.T) {
	e := gridFixture(t, 40)
	img, err := e.DecodeItem(context.Background(), 1, Options{})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	n := img.Img.(*image.NRGBA)
	if b := n.Bounds(); b.Dx() != 3 || b.Dy() != 3 {
		t.Fatalf("canvas = %dx%d, want 3x3", b.Dx(), b.Dy())
	}
	// Row-major tile order: (0,0)=tile 10, (2,0)=tile 20, (0,2)=tile 30,
	// (2,2)=tile 40.
	checks := []struct {
		x, y int
		want uint8
	}{
		{0, 0, 10}, {2, 0, 20}, {0, 2, 30}, {2, 2, 40},
	}
	for _, c := range checks {
		if got := n.NRGBAAt(c.x, c.y).R; got != c.want {
			t.Errorf("pixel (%d, %d) red = %d, want %d", c.x, c.y, got, c.want)
		}
	}
}

func TestDecodeGridProgress(t *testing.T) {
	e := gridFixture(t, 40)
	var calls int
	_, err := e.DecodeItem(context.Background(), 1, Options{
		MaxThreads: 1,
		Progress:   func(done, total int) { calls++ },
	})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if calls != 4 {
		t.Errorf("progress called %d times, want 4", calls)
	}
}

func TestDecodeGridTileFailure(t *testing.T) {
	e := gridFixture(t, 0xff)
	if _, err := e.DecodeItem(context.Background(), 1, Options{}); !errdefs.IsCodecFailure(err) {
		t.Errorf("failing tile: %v, want codec failure", err)
	}
}

func TestDecodeGridBestEffort(t *testing.T) {
	e := gridFixture(t, 0xff)
	img, err := e.DecodeItem(context.Background(), 1, Options{BestEffort: true})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	n := img.Img.(*image.NRGBA)
	if got := n.NRGBAAt(2, 2); got.R != 0x80 || got.G != 0x80 || got.B != 0x80 || got.A != 0xff {
		t.Errorf("placeholder pixel = %+v, want opaque mid-gray", got)
	}
	if got := n.NRGBAAt(0, 0).R; got != 10 {
		t.Errorf("healthy tile pixel red = %d, want 10", got)
	}
	if len(img.Warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(img.Warnings))
	}
}

func TestDecodeGridBestEffortCustomPlaceholder(t *testing.T) {
	e := gridFixture(t, 0xff)
	img, err := e.DecodeItem(context.Background(), 1, Options{
		BestEffort:       true,
		PlaceholderColor: &[4]uint8{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	n := img.Img.(*image.NRGBA)
	if got := n.NRGBAAt(2, 2); got.R != 1 || got.G != 2 || got.B != 3 || got.A != 4 {
		t.Errorf("placeholder pixel = %+v, want the requested color", got)
	}
}

// TestDecodeGridBestEffortWithoutTileSize exercises the placeholder path on
// a grid whose tiles carry no spatial-extents property: the tile size then
// comes from the canvas and layout, and the failed tile's region must still
// be painted rather than left as zeroed canvas.
func TestDecodeGridBestEffortWithoutTileSize(t *testing.T) {
	e := newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "grid", 2: "unci", 3: "unci", 4: "unci", 5: "unci"},
			[]uint16{1, 2, 3, 4, 5})
		p.Box(bmff.TypeIdat, func(h *bmff.Builder) {
			h.Raw([]byte{0, 0, 1, 1, 0, 3, 0, 3})
			h.Raw([]byte{10, 20, 30, 0xff})
		})
		writeIlocIdat(p, []struct{ id, off, length uint16 }{
			{1, 0, 8}, {2, 8, 1}, {3, 9, 1}, {4, 10, 1}, {5, 11, 1},
		})
		writeDimg(p, 1, 2, 3, 4, 5)
	})

	img, err := e.DecodeItem(context.Background(), 1, Options{BestEffort: true})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	n := img.Img.(*image.NRGBA)
	if got := n.NRGBAAt(0, 0).R; got != 10 {
		t.Errorf("healthy tile pixel red = %d, want 10", got)
	}
	if got := n.NRGBAAt(2, 2); got.R != 0x80 || got.G != 0x80 || got.B != 0x80 || got.A != 0xff {
		t.Errorf("failed tile pixel = %+v, want opaque mid-gray placeholder", got)
	}
	if len(img.Warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(img.Warnings))
	}
}

func TestFillRectLowAlpha(t *testing.T) {
	canvas := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	fillRect(canvas, image.Rect(1, 1, 3, 3), [4]uint8{200, 150, 100, 3})
	if got := canvas.NRGBAAt(2, 2); got != (color.NRGBA{R: 200, G: 150, B: 100, A: 3}) {
		t.Errorf("filled pixel = %+v, want the requested color", got)
	}
	if got := canvas.NRGBAAt(0, 0); got != (color.NRGBA{}) {
		t.Errorf("pixel outside the rect = %+v, want untouched", got)
	}
}

func TestDecodeCodedTripsImageSizeLimit(t *testing.T) {
	e := newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "unci"}, []uint16{1})
		p.Box(bmff.TypeIdat, func(h *bmff.Builder) { h.U8(5) })
		writeIlocIdat(p, []struct{ id, off, length uint16 }{{1, 0, 1}})
		writeIspeFor(p, 1)
	})
	e.Limits.MaxImageSizePixels = 3

	if _, err := e.DecodeItem(context.Background(), 1, Options{}); !errdefs.IsLimitExceeded(err) {
		t.Errorf("2x2 item under a 3-pixel limit: %v, want limit exceeded", err)
	}
}

// cursorOnlySource hides the absolute-read capability of the memory reader,
// leaving only the shared Seek+Read cursor.
type cursorOnlySource struct {
	inner *stream.MemoryReader
}

func (s *cursorOnlySource) Position() int64            { return s.inner.Position() }
func (s *cursorOnlySource) Read(p []byte) (int, error) { return s.inner.Read(p) }
func (s *cursorOnlySource) Seek(pos int64) error       { return s.inner.Seek(pos) }
func (s *cursorOnlySource) WaitForFileSize(n int64) stream.GrowStatus {
	return s.inner.WaitForFileSize(n)
}

// TestThreadLimitSharedCursorSource pins tile decoding to one worker when
// the source offers no offset-explicit reads, since parallel workers would
// interleave Seek and Read on the shared cursor.
func TestThreadLimitSharedCursorSource(t *testing.T) {
	b := bmff.NewBuilder()
	b.FullBox(bmff.TypeMeta, 0, 0, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "unci"}, []uint16{1})
	})
	data := b.Bytes()

	engineFor := func(src stream.Reader) *Engine {
		t.Helper()
		limits := security.Global()
		r := bmff.NewReader(src, &limits)
		metaBox, err := r.ReadBoxAt(0, int64(len(data)))
		if err != nil {
			t.Fatalf("reading meta box: %v", err)
		}
		g, err := meta.Parse(r, metaBox)
		if err != nil {
			t.Fatalf("meta.Parse: %v", err)
		}
		return &Engine{Graph: g, Registry: codec.NewRegistry(), Limits: r.Limits()}
	}

	mem := engineFor(stream.NewMemoryReader(data))
	if got := mem.threadLimit(Options{MaxThreads: 4}); got != 4 {
		t.Errorf("thread limit over a memory source = %d, want 4", got)
	}
	shared := engineFor(&cursorOnlySource{inner: stream.NewMemoryReader(data)})
	if got := shared.threadLimit(Options{MaxThreads: 4}); got != 1 {
		t.Errorf("thread limit over a shared-cursor source = %d, want 1", got)
	}
}

func TestDecodeCancelled(t *testing.T) {
	e := gridFixture(t, 40)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.DecodeItem(ctx, 1, Options{}); !errdefs.IsCancelled(err) {
		t.Errorf("cancelled context: %v, want cancelled", err)
	}
}

func TestDecodeOverlay(t *testing.T) {
	e := newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "iovl", 2: "unci"}, []uint16{1, 2})
		p.Box(bmff.TypeIdat, func(h *bmff.Builder) {
			h.U8(0) // version
			h.U8(0) // flags: 16-bit fields
			h.U16(0xffff)
			h.U16(0)
			h.U16(0)
			h.U16(0xffff) // opaque red background
			h.U16(4)
			h.U16(4)
			h.U16(0xffff) // member offset (-1, -1)
			h.U16(0xffff)
			h.U8(77) // member payload
		})
		writeIlocIdat(p, []struct{ id, off, length uint16 }{
			{1, 0, 18}, {2, 18, 1},
		})
		writeDimg(p, 1, 2)
	})

	img, err := e.DecodeItem(context.Background(), 1, Options{})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	n := img.Img.(*image.NRGBA)
	if b := n.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Fatalf("canvas = %dx%d, want 4x4", b.Dx(), b.Dy())
	}
	// The 2x2 member at (-1, -1) covers only the top-left canvas pixel.
	if got := n.NRGBAAt(0, 0); got.R != 77 || got.G != 100 {
		t.Errorf("member pixel = %+v, want the overlay member", got)
	}
	if got := n.NRGBAAt(1, 1); got.R != 0xff || got.G != 0 || got.B != 0 {
		t.Errorf("background pixel = %+v, want opaque red", got)
	}
}

func TestDecodeIdentity(t *testing.T) {
	e := newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "iden", 2: "unci"}, []uint16{1, 2})
		p.Box(bmff.TypeIdat, func(h *bmff.Builder) { h.U8(55) })
		writeIlocIdat(p, []struct{ id, off, length uint16 }{{2, 0, 1}})
		writeDimg(p, 1, 2)
	})

	img, err := e.DecodeItem(context.Background(), 1, Options{})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if got := img.Img.(*image.NRGBA).NRGBAAt(0, 0).R; got != 55 {
		t.Errorf("identity pixel red = %d, want 55", got)
	}
}

func TestDecodeIdentityRejectsMultipleSources(t *testing.T) {
	e := newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "iden", 2: "unci", 3: "unci"}, []uint16{1, 2, 3})
		writeDimg(p, 1, 2, 3)
	})
	if _, err := e.DecodeItem(context.Background(), 1, Options{}); !errdefs.IsMalformedInput(err) {
		t.Errorf("identity with two sources: %v, want malformed input", err)
	}
}

func TestDecodeUnknownItemType(t *testing.T) {
	e := newTestEngine(t, func(p *bmff.Builder) {
		writeHdlr(p)
		writeIinf(p, map[uint16]string{1: "zzzz"}, []uint16{1})
	})
	if _, err := e.DecodeItem(context.Background(), 1, Options{}); !errdefs.IsUnsupportedFormat(err) {
		t.Errorf("unknown item type: %v, want unsupported format", err)
	}
}

func TestParseGrid(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    *Grid
		wantErr bool
	}{
		{
			name: "compact",
			data: []byte{0, 0, 1, 3, 0x01, 0x00, 0x00, 0x80},
			want: &Grid{Rows: 2, Columns: 4, Width: 256, Height: 128},
		},
		{
			name: "wide",
			data: []byte{0, 1, 0, 0, 0, 1, 0, 0, 0, 0, 0x80, 0},
			want: &Grid{Rows: 1, Columns: 1, Width: 65536, Height: 32768},
		},
		{name: "bad version", data: []byte{1, 0, 0, 0, 0, 1, 0, 1}, wantErr: true},
		{name: "zero canvas", data: []byte{0, 0, 0, 0, 0, 0, 0, 0}, wantErr: true},
		{name: "truncated", data: []byte{0, 0, 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseGrid(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseGrid succeeded")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGrid: %v", err)
			}
			if *g != *tt.want {
				t.Errorf("ParseGrid = %+v, want %+v", g, tt.want)
			}
		})
	}
}

func TestParseOverlay(t *testing.T) {
	data := []byte{
		0, 0, // version, flags
		0x12, 0x34, 0, 0, 0, 0, 0xff, 0xff, // background
		0, 8, 0, 6, // canvas
		0xff, 0xfe, 0, 3, // offset (-2, 3)
	}
	o, err := ParseOverlay(data, 1)
	if err != nil {
		t.Fatalf("ParseOverlay: %v", err)
	}
	if o.Width != 8 || o.Height != 6 {
		t.Errorf("canvas = %dx%d, want 8x6", o.Width, o.Height)
	}
	if o.Background != [4]uint16{0x1234, 0, 0, 0xffff} {
		t.Errorf("background = %v", o.Background)
	}
	if o.Offsets[0] != (OverlayOffset{X: -2, Y: 3}) {
		t.Errorf("offset = %+v, want (-2, 3)", o.Offsets[0])
	}

	if _, err := ParseOverlay([]byte{3, 0}, 0); err == nil {
		t.Error("bad version accepted")
	}
	if _, err := ParseOverlay(data[:6], 1); err == nil {
		t.Error("truncated descriptor accepted")
	}
}

func TestTolerable(t *testing.T) {
	if tolerable(errdefs.ErrLimitExceeded) {
		t.Error("limit violations must never be papered over")
	}
	if !tolerable(errdefs.ErrCodecFailure) {
		t.Error("codec failures should be tolerable in best-effort mode")
	}
	if tolerable(errors.New("other")) {
		t.Error("unclassified errors should not be tolerable")
	}
}
