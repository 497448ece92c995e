package compose

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
)

// Grid describes a grid item: tiles laid out row-major, every tile the same
// size, with the canvas cropping the last row and column.
type Grid struct {
	Rows    int
	Columns int
	Width   uint32 // output canvas
	Height  uint32
}

// ParseGrid decodes a grid item's descriptor payload.
func ParseGrid(data []byte) (*Grid, error) {
	c := bmff.NewCursor(data)
	version := c.Uint8()
	flags := c.Uint8()
	if c.Err() == nil && version != 0 {
		return nil, errdefs.Malformed("compose: grid descriptor version %d is not supported", version)
	}
	g := &Grid{
		Rows:    int(c.Uint8()) + 1,
		Columns: int(c.Uint8()) + 1,
	}
	if flags&1 != 0 {
		g.Width = c.Uint32()
		g.Height = c.Uint32()
	} else {
		g.Width = uint32(c.Uint16())
		g.Height = uint32(c.Uint16())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if g.Width == 0 || g.Height == 0 {
		return nil, errdefs.Malformed("compose: grid canvas %dx%d", g.Width, g.Height)
	}
	return g, nil
}

// GridOf returns the parsed grid descriptor of a grid item.
func (e *Engine) GridOf(it *meta.Item) (*Grid, error) {
	if it.Type != meta.ItemTypeGrid {
		return nil, errdefs.Malformed("compose: item %d is %q, not a grid", it.ID, it.Type)
	}
	data, err := e.Graph.ReadData(it)
	if err != nil {
		return nil, err
	}
	return ParseGrid(data)
}

func (e *Engine) decodeGrid(ctx context.Context, it *meta.Item, opts Options, depth int) (*pixel.Image, error) {
	grid, err := e.GridOf(it)
	if err != nil {
		return nil, err
	}
	tiles := e.Graph.ReferencesFrom(meta.RefDerived, it.ID)
	if len(tiles) != grid.Rows*grid.Columns {
		return nil, errdefs.Malformed("compose: grid %d declares %dx%d tiles but references %d", it.ID, grid.Rows, grid.Columns, len(tiles))
	}
	if err := e.Limits.CheckNumberOfTiles(uint64(len(tiles))); err != nil {
		return nil, err
	}
	if err := e.Limits.CheckImageSize(uint64(grid.Width), uint64(grid.Height)); err != nil {
		return nil, err
	}

	// The tile size comes from the first tile's spatial extents; every
	// tile must match. Without an ispe the nominal size implied by the
	// canvas and layout is used, so each tile's canvas region stays well
	// defined even when the tile itself fails to decode.
	tileW, tileH, haveTileSize := e.tileSize(tiles[0])
	if !haveTileSize {
		tileW = ceilDiv(grid.Width, uint32(grid.Columns))
		tileH = ceilDiv(grid.Height, uint32(grid.Rows))
	}
	if uint64(tileW)*uint64(grid.Columns) < uint64(grid.Width) ||
		uint64(tileH)*uint64(grid.Rows) < uint64(grid.Height) {
		return nil, errdefs.Malformed("compose: %dx%d tiles in a %dx%d layout cannot cover a %dx%d canvas",
			tileW, tileH, grid.Rows, grid.Columns, grid.Width, grid.Height)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	// Let a caching source start fetching the tile extents ahead of the
	// workers that will read them.
	for _, tileID := range tiles {
		if tile, err := e.Graph.ItemByID(tileID); err == nil {
			e.Graph.HintItemData(tile)
		}
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, int(grid.Width), int(grid.Height)))

	var (
		done     atomic.Int64
		warnMu   sync.Mutex
		warnings []pixel.Warning
	)
	g, gctx := e.groupWithLimit(ctx, opts)
	for i := range tiles {
		row, col := i/grid.Columns, i%grid.Columns
		tileID := tiles[i]
		g.Go(func() error {
			err := e.placeTile(gctx, canvas, grid, tileID, row, col, tileW, tileH, opts, depth+1)
			if err != nil {
				if !opts.BestEffort || !tolerable(err) {
					return err
				}
				fillRect(canvas, tileRect(canvas.Rect, grid, row, col, tileW, tileH), opts.placeholder())
				warnMu.Lock()
				warnings = append(warnings, pixel.Warning{
					Message: fmt.Sprintf("tile %d replaced with placeholder: %v", tileID, err),
				})
				warnMu.Unlock()
			}
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), len(tiles))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &pixel.Image{
		Img:           canvas,
		Colorspace:    pixel.ColorspaceRGB,
		Chroma:        pixel.ChromaInterleavedRGBA,
		BitsPerSample: 8,
		Warnings:      warnings,
	}, nil
}

// tileSize reads the declared tile dimensions from the first tile's spatial
// extents property.
func (e *Engine) tileSize(first meta.ItemID) (w, h uint32, ok bool) {
	it, err := e.Graph.ItemByID(first)
	if err != nil {
		return 0, 0, false
	}
	return it.SpatialExtents()
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// tileRect returns the canvas region a tile occupies, cropped to the canvas
// on the last row and column.
func tileRect(canvas image.Rectangle, g *Grid, row, col int, tileW, tileH uint32) image.Rectangle {
	r := image.Rect(
		col*int(tileW), row*int(tileH),
		(col+1)*int(tileW), (row+1)*int(tileH),
	)
	return r.Intersect(canvas)
}

// placeTile decodes one tile and copies it into its disjoint canvas region.
func (e *Engine) placeTile(ctx context.Context, canvas *image.NRGBA, g *Grid, tileID meta.ItemID, row, col int, tileW, tileH uint32, opts Options, depth int) error {
	sub := opts
	sub.Progress = nil
	sub.TargetColorspace = pixel.ColorspaceUndefined

	img, err := e.decode(ctx, tileID, sub, depth)
	if err != nil {
		return err
	}
	tile, err := asNRGBA(img)
	if err != nil {
		return err
	}

	tb := tile.Bounds()
	if uint32(tb.Dx()) != tileW || uint32(tb.Dy()) != tileH {
		return errdefs.Malformed("compose: tile %d is %dx%d, grid expects %dx%d", tileID, tb.Dx(), tb.Dy(), tileW, tileH)
	}

	dst := tileRect(canvas.Rect, g, row, col, tileW, tileH)
	draw.Draw(canvas, dst, tile, tb.Min, draw.Src)
	return nil
}
