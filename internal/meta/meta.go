// Package meta builds the item graph of a HEIF/AVIF file: items with their
// byte-range extents, shared properties, typed reference edges, and entity
// groups, interpreted from the boxes inside the top-level meta box.
//
// The graph is constructed in one pass per session and is read-only
// afterwards; repeated queries never re-tokenize the file.
package meta

import (
	"fmt"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/security"
	"github.com/ooopus/libheif/stream"
)

// ItemID identifies an item within one file.
type ItemID uint32

// Well-known item types.
var (
	ItemTypeHvc1 = bmff.FCC("hvc1")
	ItemTypeAvc1 = bmff.FCC("avc1")
	ItemTypeAv01 = bmff.FCC("av01")
	ItemTypeVvc1 = bmff.FCC("vvc1")
	ItemTypeJpeg = bmff.FCC("jpeg")
	ItemTypeJ2k1 = bmff.FCC("j2k1")
	ItemTypeUnci = bmff.FCC("unci")
	ItemTypeGrid = bmff.FCC("grid")
	ItemTypeIovl = bmff.FCC("iovl")
	ItemTypeIden = bmff.FCC("iden")
	ItemTypeExif = bmff.FCC("Exif")
	ItemTypeMime = bmff.FCC("mime")
	ItemTypeURI  = bmff.FCC("uri ")
)

// Well-known reference types.
var (
	RefThumbnail = bmff.FCC("thmb") // thumbnail -> master
	RefAuxiliary = bmff.FCC("auxl") // auxiliary -> master
	RefDerived   = bmff.FCC("dimg") // derived -> sources (grid/overlay tiles)
	RefDescribes = bmff.FCC("cdsc") // metadata -> described item
	RefBase      = bmff.FCC("base")
)

// Extent is one contiguous byte range of an item's data, as declared by the
// location table. Offsets are relative to the construction method's origin.
type Extent struct {
	Index  uint64
	Offset uint64
	Length uint64
}

// Construction methods of the location table.
const (
	ConstructFileOffset = 0
	ConstructIdat       = 1
	ConstructItem       = 2
)

// Location is an item's entry in the location table.
type Location struct {
	ConstructionMethod uint8
	DataReferenceIndex uint16
	BaseOffset         uint64
	Extents            []Extent
}

// Property is one entry of the property container. Instances are shared:
// several items may reference the same Property. Payload is the raw box
// payload; Parsed holds the decoded form for known property types (Ispe,
// Irot, Imir, Clap, Pixi, AuxC, Colr).
type Property struct {
	Type    bmff.FourCC
	Payload []byte
	Parsed  any
}

// PropertyRef associates a shared Property with an item.
type PropertyRef struct {
	Property  *Property
	Essential bool
}

// Item is one logical unit of the container.
type Item struct {
	ID              ItemID
	Type            bmff.FourCC
	Name            string
	ContentType     string
	ContentEncoding string
	URIType         string
	ProtectionIndex uint16
	Hidden          bool

	Location   *Location
	Properties []PropertyRef
}

// Property returns the first associated property of the given type, or nil.
func (it *Item) Property(typ bmff.FourCC) *Property {
	for _, ref := range it.Properties {
		if ref.Property.Type == typ {
			return ref.Property
		}
	}
	return nil
}

// SpatialExtents returns the item's ispe dimensions.
func (it *Item) SpatialExtents() (width, height uint32, ok bool) {
	if p := it.Property(PropIspe); p != nil {
		if ispe, isIspe := p.Parsed.(*Ispe); isIspe {
			return ispe.Width, ispe.Height, true
		}
	}
	return 0, 0, false
}

// Reference is a typed directed edge from one item to an ordered list of
// items.
type Reference struct {
	Type bmff.FourCC
	From ItemID
	To   []ItemID
}

// EntityGroup is a named set of items, orthogonal to the reference graph.
type EntityGroup struct {
	GroupID uint32
	Type    bmff.FourCC
	Members []ItemID
}

// Graph is the fully built item graph of one file.
type Graph struct {
	HandlerType bmff.FourCC
	PrimaryID   ItemID
	HasPrimary  bool

	items      map[ItemID]*Item
	order      []ItemID
	Properties []*Property
	References []*Reference
	Groups     []*EntityGroup

	idat   []byte
	reader *bmff.Reader
	limits *security.Limits
}

// ItemByID returns the item with the given id.
func (g *Graph) ItemByID(id ItemID) (*Item, error) {
	it, ok := g.items[id]
	if !ok {
		return nil, errItemNotFound(id)
	}
	return it, nil
}

func errItemNotFound(id ItemID) error {
	return fmt.Errorf("meta: no item with id %d: %w", id, errdefs.ErrNotFound)
}

// ItemIDs returns all item ids in file order.
func (g *Graph) ItemIDs() []ItemID {
	out := make([]ItemID, len(g.order))
	copy(out, g.order)
	return out
}

// Primary returns the primary item.
func (g *Graph) Primary() (*Item, error) {
	if !g.HasPrimary {
		return nil, errdefs.Malformed("meta: file has no primary item box")
	}
	return g.ItemByID(g.PrimaryID)
}

// ReferencesFrom returns the ordered targets of the first reference of the
// given type originating at from.
func (g *Graph) ReferencesFrom(typ bmff.FourCC, from ItemID) []ItemID {
	for _, r := range g.References {
		if r.Type == typ && r.From == from {
			out := make([]ItemID, len(r.To))
			copy(out, r.To)
			return out
		}
	}
	return nil
}

// ReferencesTo returns the items that have a reference of the given type
// pointing at to, in file order.
func (g *Graph) ReferencesTo(typ bmff.FourCC, to ItemID) []ItemID {
	var out []ItemID
	for _, r := range g.References {
		if r.Type != typ {
			continue
		}
		for _, t := range r.To {
			if t == to {
				out = append(out, r.From)
				break
			}
		}
	}
	return out
}

// EntityGroups returns the entity groups, optionally filtered by group type
// (zero FourCC disables) and by containing member (zero id disables).
func (g *Graph) EntityGroups(typeFilter bmff.FourCC, member ItemID) []*EntityGroup {
	var zero bmff.FourCC
	var out []*EntityGroup
	for _, grp := range g.Groups {
		if typeFilter != zero && grp.Type != typeFilter {
			continue
		}
		if member != 0 {
			found := false
			for _, m := range grp.Members {
				if m == member {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, grp)
	}
	return out
}

// imageItemTypes are the item types that decode to a raster, directly or as
// a derived image.
var imageItemTypes = map[bmff.FourCC]bool{
	ItemTypeHvc1: true,
	ItemTypeAvc1: true,
	ItemTypeAv01: true,
	ItemTypeVvc1: true,
	ItemTypeJpeg: true,
	ItemTypeJ2k1: true,
	ItemTypeUnci: true,
	ItemTypeGrid: true,
	ItemTypeIovl: true,
	ItemTypeIden: true,
}

// IsImageItem reports whether the item decodes to a raster.
func IsImageItem(it *Item) bool { return imageItemTypes[it.Type] }

// TopLevelImageIDs returns the image items that should be presented on
// their own: not hidden, not a tile of a derived image, and not a thumbnail
// or auxiliary image of another item.
func (g *Graph) TopLevelImageIDs() []ItemID {
	excluded := make(map[ItemID]bool)
	for _, r := range g.References {
		switch r.Type {
		case RefDerived:
			for _, t := range r.To {
				excluded[t] = true
			}
		case RefThumbnail, RefAuxiliary:
			excluded[r.From] = true
		}
	}
	var out []ItemID
	for _, id := range g.order {
		it := g.items[id]
		if !IsImageItem(it) || it.Hidden || excluded[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// IsTopLevelImageID reports whether id is in TopLevelImageIDs.
func (g *Graph) IsTopLevelImageID(id ItemID) bool {
	for _, t := range g.TopLevelImageIDs() {
		if t == id {
			return true
		}
	}
	return false
}

// CompressionFormat maps an item's type to its compression format.
func CompressionFormat(it *Item) codec.Format {
	switch it.Type {
	case ItemTypeHvc1:
		return codec.FormatHEVC
	case ItemTypeAvc1:
		return codec.FormatAVC
	case ItemTypeAv01:
		return codec.FormatAV1
	case ItemTypeVvc1:
		return codec.FormatVVC
	case ItemTypeJpeg:
		return codec.FormatJPEG
	case ItemTypeJ2k1:
		return codec.FormatJPEG2000
	case ItemTypeUnci:
		return codec.FormatUncompressed
	default:
		return codec.FormatUndefined
	}
}

// decoderConfigTypes maps compression formats to their codec configuration
// property type.
var decoderConfigTypes = map[codec.Format]bmff.FourCC{
	codec.FormatHEVC:         bmff.FCC("hvcC"),
	codec.FormatAVC:          bmff.FCC("avcC"),
	codec.FormatAV1:          bmff.FCC("av1C"),
	codec.FormatVVC:          bmff.FCC("vvcC"),
	codec.FormatJPEG:         bmff.FCC("jpgC"),
	codec.FormatJPEG2000:     bmff.FCC("j2kH"),
	codec.FormatUncompressed: bmff.FCC("uncC"),
}

// DecoderConfigType returns the configuration property type for a format.
func DecoderConfigType(f codec.Format) (bmff.FourCC, bool) {
	t, ok := decoderConfigTypes[f]
	return t, ok
}

// DecoderConfig returns the payload of the item's codec configuration
// property, or nil when it has none.
func (g *Graph) DecoderConfig(it *Item) []byte {
	typ, ok := decoderConfigTypes[CompressionFormat(it)]
	if !ok {
		return nil
	}
	if p := it.Property(typ); p != nil {
		return p.Payload
	}
	return nil
}

// Source returns the stream the graph reads item data from.
func (g *Graph) Source() stream.Reader {
	return g.reader.Source()
}

// HintItemData tells a caching source that the item's file extents may be
// read soon. Sources without the hinting capability, and items whose data
// lives in idat or in other items, are a no-op.
func (g *Graph) HintItemData(it *Item) {
	h, ok := g.reader.Source().(stream.RangeHinter)
	if !ok {
		return
	}
	loc := it.Location
	if loc == nil || loc.ConstructionMethod != ConstructFileOffset {
		return
	}
	for _, e := range loc.Extents {
		start := loc.BaseOffset + e.Offset
		end := start + e.Length
		if end < start {
			return
		}
		h.PreloadRangeHint(int64(start), int64(end))
	}
}

// ReadData reads and concatenates the item's extents. Availability of every
// extent is established through the stream's grow protocol before the
// allocation happens, so a growing source blocks rather than short-reads and
// a range beyond the final size fails as an i/o failure.
func (g *Graph) ReadData(it *Item) ([]byte, error) {
	return g.readData(it, 0)
}

// maxItemConstructionDepth bounds item-to-item extent chains.
const maxItemConstructionDepth = 8

func (g *Graph) readData(it *Item, depth int) ([]byte, error) {
	if depth > maxItemConstructionDepth {
		return nil, errdefs.Malformed("meta: item %d data construction nested deeper than %d", it.ID, maxItemConstructionDepth)
	}
	loc := it.Location
	if loc == nil {
		return nil, errdefs.Malformed("meta: item %d has no location table entry", it.ID)
	}

	var total uint64
	for _, e := range loc.Extents {
		total += e.Length
	}
	if err := g.limits.CheckMemoryBlock(total); err != nil {
		return nil, err
	}

	switch loc.ConstructionMethod {
	case ConstructFileOffset:
		out := make([]byte, 0, total)
		for _, e := range loc.Extents {
			start := loc.BaseOffset + e.Offset
			end := start + e.Length
			if end < start {
				return nil, errdefs.Malformed("meta: extent of item %d overflows", it.ID)
			}
			data, err := stream.ReadRange(g.reader.Source(), int64(start), int64(end))
			if err != nil {
				return nil, wrapExtentErr(err)
			}
			out = append(out, data...)
		}
		return out, nil

	case ConstructIdat:
		out := make([]byte, 0, total)
		for _, e := range loc.Extents {
			start := loc.BaseOffset + e.Offset
			end := start + e.Length
			if end < start || end > uint64(len(g.idat)) {
				return nil, errdefs.Malformed("meta: idat extent [%d, %d) of item %d outside %d-byte idat", start, end, it.ID, len(g.idat))
			}
			out = append(out, g.idat[start:end]...)
		}
		return out, nil

	case ConstructItem:
		refs := g.ReferencesFrom(bmff.FCC("iloc"), it.ID)
		out := make([]byte, 0, total)
		for _, e := range loc.Extents {
			idx := e.Index
			if idx == 0 {
				idx = 1
			}
			if idx > uint64(len(refs)) {
				return nil, errdefs.Malformed("meta: extent of item %d references source %d of %d", it.ID, idx, len(refs))
			}
			src, err := g.ItemByID(refs[idx-1])
			if err != nil {
				return nil, err
			}
			data, err := g.readData(src, depth+1)
			if err != nil {
				return nil, err
			}
			start := loc.BaseOffset + e.Offset
			end := start + e.Length
			if end < start || end > uint64(len(data)) {
				return nil, errdefs.Malformed("meta: extent [%d, %d) of item %d outside %d-byte source item", start, end, it.ID, len(data))
			}
			out = append(out, data[start:end]...)
		}
		return out, nil

	default:
		return nil, errdefs.Malformed("meta: item %d uses unsupported construction method %d", it.ID, loc.ConstructionMethod)
	}
}

func wrapExtentErr(err error) error {
	return fmt.Errorf("meta: reading extent: %w: %w", errdefs.ErrIOFailure, err)
}
