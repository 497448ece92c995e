package heif

import (
	"context"
	"fmt"
	"strings"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
)

// Auxiliary image roles, by URN.
const (
	AuxTypeAlphaHEVC = "urn:mpeg:hevc:2015:auxid:1"
	AuxTypeDepthHEVC = "urn:mpeg:hevc:2015:auxid:2"
	AuxTypeAlphaAVIF = "urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"
	AuxTypeDepthAVIF = "urn:mpeg:mpegB:cicp:systems:auxiliary:depth"
)

// ImageHandle is a lightweight reference to one image item of a session.
// Obtaining a handle decodes nothing; call Decode for pixels.
type ImageHandle struct {
	ctx  *Context
	item *meta.Item
}

// ID returns the underlying item id.
func (h *ImageHandle) ID() ItemID { return h.item.ID }

// ItemType returns the item's four-character type code.
func (h *ImageHandle) ItemType() bmff.FourCC { return h.item.Type }

// IsPrimary reports whether this is the file's primary image.
func (h *ImageHandle) IsPrimary() bool {
	return h.ctx.graph.HasPrimary && h.ctx.graph.PrimaryID == h.item.ID
}

// IsHidden reports the item's hidden flag.
func (h *ImageHandle) IsHidden() bool { return h.item.Hidden }

// UntransformedDimensions returns the ispe dimensions, before any crop,
// rotation, or mirror property is applied.
func (h *ImageHandle) UntransformedDimensions() (width, height uint32, ok bool) {
	return h.item.SpatialExtents()
}

// Dimensions returns the visual dimensions of the image: the ispe extents
// with rotation applied (a 90 or 270 degree rotation swaps the axes).
func (h *ImageHandle) Dimensions() (width, height uint32, ok bool) {
	width, height, ok = h.item.SpatialExtents()
	if !ok {
		return 0, 0, false
	}
	for _, ref := range h.item.Properties {
		if irot, isRot := ref.Property.Parsed.(*meta.Irot); isRot && irot.Angle%2 == 1 {
			width, height = height, width
		}
	}
	return width, height, true
}

// HasAlpha reports whether the image carries an alpha auxiliary image.
func (h *ImageHandle) HasAlpha() bool {
	_, err := h.AuxiliaryImage(auxIsAlpha)
	return err == nil
}

// HasDepth reports whether the image carries a depth auxiliary image.
func (h *ImageHandle) HasDepth() bool {
	_, err := h.AuxiliaryImage(auxIsDepth)
	return err == nil
}

func auxIsAlpha(urn string) bool {
	return urn == AuxTypeAlphaHEVC || urn == AuxTypeAlphaAVIF || strings.HasSuffix(urn, ":alpha")
}

func auxIsDepth(urn string) bool {
	return urn == AuxTypeDepthHEVC || urn == AuxTypeDepthAVIF || strings.HasSuffix(urn, ":depth")
}

// Thumbnails returns handles for the image's thumbnails, in file order.
func (h *ImageHandle) Thumbnails() []*ImageHandle {
	var out []*ImageHandle
	for _, id := range h.ctx.graph.ReferencesTo(meta.RefThumbnail, h.item.ID) {
		if t, err := h.ctx.Image(id); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// AuxiliaryImages returns handles for the image's auxiliary images whose
// auxC URN satisfies match. A nil match accepts all.
func (h *ImageHandle) AuxiliaryImages(match func(urn string) bool) []*ImageHandle {
	var out []*ImageHandle
	for _, id := range h.ctx.graph.ReferencesTo(meta.RefAuxiliary, h.item.ID) {
		aux, err := h.ctx.Image(id)
		if err != nil {
			continue
		}
		if match != nil {
			urn, ok := aux.auxType()
			if !ok || !match(urn) {
				continue
			}
		}
		out = append(out, aux)
	}
	return out
}

// AuxiliaryImage returns the first auxiliary image whose URN satisfies
// match.
func (h *ImageHandle) AuxiliaryImage(match func(urn string) bool) (*ImageHandle, error) {
	all := h.AuxiliaryImages(match)
	if len(all) == 0 {
		return nil, fmt.Errorf("heif: item %d has no matching auxiliary image: %w", h.item.ID, errdefs.ErrNotFound)
	}
	return all[0], nil
}

// AlphaImage returns the image's alpha plane.
func (h *ImageHandle) AlphaImage() (*ImageHandle, error) { return h.AuxiliaryImage(auxIsAlpha) }

// DepthImage returns the image's depth map.
func (h *ImageHandle) DepthImage() (*ImageHandle, error) { return h.AuxiliaryImage(auxIsDepth) }

// auxType returns the handle's auxC URN.
func (h *ImageHandle) auxType() (string, bool) {
	if p := h.item.Property(meta.PropAuxC); p != nil {
		if auxC, ok := p.Parsed.(*meta.AuxC); ok {
			return auxC.AuxType, true
		}
	}
	return "", false
}

// Metadata is one metadata item attached to an image, such as an Exif or
// XMP blob.
type Metadata struct {
	ItemID      ItemID
	ItemType    bmff.FourCC
	ContentType string

	handle *ImageHandle
}

// Data reads the metadata payload.
func (m *Metadata) Data() ([]byte, error) {
	it, err := m.handle.ctx.graph.ItemByID(m.ItemID)
	if err != nil {
		return nil, err
	}
	return m.handle.ctx.graph.ReadData(it)
}

// Metadata lists the metadata items describing this image, in file order.
func (h *ImageHandle) Metadata() []Metadata {
	var out []Metadata
	for _, id := range h.ctx.graph.ReferencesTo(meta.RefDescribes, h.item.ID) {
		it, err := h.ctx.graph.ItemByID(id)
		if err != nil {
			continue
		}
		out = append(out, Metadata{
			ItemID:      id,
			ItemType:    it.Type,
			ContentType: it.ContentType,
			handle:      h,
		})
	}
	return out
}

// Tiling describes the tile layout of a grid image.
type Tiling struct {
	Columns    int
	Rows       int
	TileWidth  uint32
	TileHeight uint32

	// ImageWidth and ImageHeight are the canvas dimensions; the last row
	// and column of tiles are cropped to them.
	ImageWidth  uint32
	ImageHeight uint32
}

// Tiling returns the grid layout of the image. Non-grid images report a
// single tile covering the whole image.
func (h *ImageHandle) Tiling() (Tiling, error) {
	if h.item.Type != meta.ItemTypeGrid {
		w, hgt, ok := h.item.SpatialExtents()
		if !ok {
			return Tiling{}, errdefs.Malformed("heif: item %d has no spatial extents", h.item.ID)
		}
		return Tiling{Columns: 1, Rows: 1, TileWidth: w, TileHeight: hgt, ImageWidth: w, ImageHeight: hgt}, nil
	}
	grid, err := h.ctx.engine.GridOf(h.item)
	if err != nil {
		return Tiling{}, err
	}
	t := Tiling{
		Columns:     grid.Columns,
		Rows:        grid.Rows,
		ImageWidth:  grid.Width,
		ImageHeight: grid.Height,
	}
	tiles := h.ctx.graph.ReferencesFrom(meta.RefDerived, h.item.ID)
	if len(tiles) > 0 {
		if first, err := h.ctx.graph.ItemByID(tiles[0]); err == nil {
			if w, hgt, ok := first.SpatialExtents(); ok {
				t.TileWidth, t.TileHeight = w, hgt
			}
		}
	}
	return t, nil
}

// GridTileID returns the item id of the tile at (column, row) of a grid
// image.
func (h *ImageHandle) GridTileID(column, row int) (ItemID, error) {
	if h.item.Type != meta.ItemTypeGrid {
		return 0, fmt.Errorf("heif: item %d is not a grid: %w", h.item.ID, errdefs.ErrUnsupportedFormat)
	}
	grid, err := h.ctx.engine.GridOf(h.item)
	if err != nil {
		return 0, err
	}
	if column < 0 || column >= grid.Columns || row < 0 || row >= grid.Rows {
		return 0, fmt.Errorf("heif: tile (%d, %d) outside %dx%d grid: %w", column, row, grid.Rows, grid.Columns, errdefs.ErrNotFound)
	}
	tiles := h.ctx.graph.ReferencesFrom(meta.RefDerived, h.item.ID)
	idx := row*grid.Columns + column
	if idx >= len(tiles) {
		return 0, errdefs.Malformed("heif: grid %d references %d tiles, need %d", h.item.ID, len(tiles), grid.Rows*grid.Columns)
	}
	return tiles[idx], nil
}

// Decode turns the handle into pixels: coded items go through the codec
// registry, derived images are composed from their sources, and the
// associated transforms are applied. Cancel ctx to abandon a decode; a grid
// checks for cancellation at every tile boundary.
func (h *ImageHandle) Decode(ctx context.Context, opts *DecodeOptions) (*pixel.Image, error) {
	img, err := h.ctx.engine.DecodeItem(ctx, h.item.ID, h.ctx.composeOptions(opts))
	if err != nil {
		return nil, err
	}
	return finishDecode(img, opts), nil
}
