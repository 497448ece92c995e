// Package compose turns items of the graph into finished rasters: it routes
// coded items to the codec registry, reassembles grids and overlays from
// their source images, and applies the transform properties associated with
// each item.
package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
	"github.com/ooopus/libheif/security"
)

// maxDerivationDepth bounds nested derived images (a grid of identities of
// overlays and so on). The cycle check at parse time catches loops; this
// catches merely absurd nesting.
const maxDerivationDepth = 16

// Options controls one decode request.
type Options struct {
	// TargetColorspace and TargetChroma select the delivered pixel layout.
	// Undefined keeps the decoder's native layout.
	TargetColorspace pixel.Colorspace
	TargetChroma     pixel.Chroma

	// Conversion tunes chroma resampling when a conversion is needed.
	Conversion pixel.ConversionOptions

	// IgnoreTransforms skips clap, irot, and imir application.
	IgnoreTransforms bool

	// DecoderID pins decoding to one plugin instead of the highest
	// priority one.
	DecoderID string

	// Strict is passed through to the decoder plugin.
	Strict bool

	// BestEffort replaces tiles that fail to decode with a placeholder
	// instead of failing the whole composition. Limit violations still
	// fail.
	BestEffort bool

	// PlaceholderColor fills best-effort placeholder tiles. The zero
	// value selects opaque mid-gray.
	PlaceholderColor *[4]uint8

	// MaxThreads bounds concurrent tile decodes. Zero or negative uses
	// GOMAXPROCS.
	MaxThreads int

	// Progress, when non-nil, is called after each completed tile of a
	// grid with the number done and the total. Calls may arrive from
	// multiple goroutines.
	Progress func(done, total int)
}

func (o *Options) placeholder() [4]uint8 {
	if o.PlaceholderColor != nil {
		return *o.PlaceholderColor
	}
	return [4]uint8{0x80, 0x80, 0x80, 0xff}
}

// Engine decodes items of one graph.
type Engine struct {
	Graph    *meta.Graph
	Registry *codec.Registry
	Limits   *security.Limits
}

// DecodeItem decodes the item with the given id, following derivation edges
// and applying associated transforms, and converts the result to the
// requested layout.
func (e *Engine) DecodeItem(ctx context.Context, id meta.ItemID, opts Options) (*pixel.Image, error) {
	img, err := e.decode(ctx, id, opts, 0)
	if err != nil {
		return nil, err
	}
	if opts.TargetColorspace != pixel.ColorspaceUndefined {
		img, err = pixel.Convert(img, opts.TargetColorspace, opts.TargetChroma, opts.Conversion)
		if err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (e *Engine) decode(ctx context.Context, id meta.ItemID, opts Options, depth int) (*pixel.Image, error) {
	if depth > maxDerivationDepth {
		return nil, errdefs.Malformed("compose: derivation of item %d nested deeper than %d", id, maxDerivationDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	it, err := e.Graph.ItemByID(id)
	if err != nil {
		return nil, err
	}

	var img *pixel.Image
	switch it.Type {
	case meta.ItemTypeGrid:
		img, err = e.decodeGrid(ctx, it, opts, depth)
	case meta.ItemTypeIovl:
		img, err = e.decodeOverlay(ctx, it, opts, depth)
	case meta.ItemTypeIden:
		img, err = e.decodeIdentity(ctx, it, opts, depth)
	default:
		img, err = e.decodeCoded(ctx, it, opts)
	}
	if err != nil {
		return nil, err
	}

	if !opts.IgnoreTransforms {
		img, err = applyTransforms(it, img)
		if err != nil {
			return nil, err
		}
	}
	return img, nil
}

// decodeCoded hands a coded item's bytes to the selected plugin.
func (e *Engine) decodeCoded(ctx context.Context, it *meta.Item, opts Options) (*pixel.Image, error) {
	format := meta.CompressionFormat(it)
	if format == codec.FormatUndefined {
		return nil, fmt.Errorf("compose: item %d has type %q: %w", it.ID, it.Type, errdefs.ErrUnsupportedFormat)
	}
	if w, h, ok := it.SpatialExtents(); ok {
		if err := e.Limits.CheckImageSize(uint64(w), uint64(h)); err != nil {
			return nil, err
		}
	}
	dec, err := e.Registry.Decoder(format, opts.DecoderID)
	if err != nil {
		return nil, err
	}
	coded, err := e.Graph.ReadData(it)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	img, err := dec.Decode(coded, e.Graph.DecoderConfig(it), codec.DecodeParams{
		TargetColorspace: opts.TargetColorspace,
		TargetChroma:     opts.TargetChroma,
		Strict:           opts.Strict,
	})
	if err != nil {
		if errdefs.IsCodecFailure(err) || errdefs.IsLimitExceeded(err) {
			return nil, err
		}
		return nil, fmt.Errorf("compose: plugin %q: %w: %w", dec.ID(), errdefs.ErrCodecFailure, err)
	}
	return img, nil
}

// decodeIdentity resolves an iden item to its single source.
func (e *Engine) decodeIdentity(ctx context.Context, it *meta.Item, opts Options, depth int) (*pixel.Image, error) {
	refs := e.Graph.ReferencesFrom(meta.RefDerived, it.ID)
	if len(refs) != 1 {
		return nil, errdefs.Malformed("compose: identity item %d has %d sources, want 1", it.ID, len(refs))
	}
	return e.decode(ctx, refs[0], opts, depth+1)
}

func (e *Engine) threadLimit(opts Options) int {
	// A source without absolute-offset reads shares one cursor between
	// Seek and Read, so parallel tile workers would interleave on it.
	if _, ok := e.Graph.Source().(io.ReaderAt); !ok {
		return 1
	}
	if opts.MaxThreads > 0 {
		return opts.MaxThreads
	}
	return runtime.GOMAXPROCS(0)
}

// tolerable reports whether a tile failure may be papered over in
// best-effort mode. Limit violations are never tolerable.
func tolerable(err error) bool {
	return errdefs.IsCodecFailure(err) || errdefs.IsIOFailure(err)
}

// fillRect paints a solid color into one region of the canvas. The pixels
// are written directly; a draw through image.Uniform would round-trip the
// color through premultiplied alpha and lose RGB at low alpha values.
func fillRect(canvas *image.NRGBA, r image.Rectangle, c [4]uint8) {
	col := color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			canvas.SetNRGBA(x, y, col)
		}
	}
}

// asNRGBA converts a decoded raster to NRGBA for canvas placement.
func asNRGBA(img *pixel.Image) (*image.NRGBA, error) {
	if n, ok := img.Img.(*image.NRGBA); ok {
		return n, nil
	}
	rgb, err := pixel.Convert(img, pixel.ColorspaceRGB, pixel.ChromaInterleavedRGBA, pixel.ConversionOptions{})
	if err != nil {
		return nil, err
	}
	if n, ok := rgb.Img.(*image.NRGBA); ok {
		return n, nil
	}
	b := rgb.Img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Rect, rgb.Img, b.Min, draw.Src)
	return n, nil
}

func cancelled(err error) error {
	return fmt.Errorf("compose: %w: %w", errdefs.ErrCancelled, err)
}

// groupWithLimit returns an errgroup bound to ctx with the request's
// concurrency limit applied.
func (e *Engine) groupWithLimit(ctx context.Context, opts Options) (*errgroup.Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.threadLimit(opts))
	return g, ctx
}
