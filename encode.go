package heif

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/codec"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
	"github.com/ooopus/libheif/pixel"
)

// EncodeOptions controls how AddImage compresses a raster.
type EncodeOptions struct {
	// Format selects the compression format; the zero value selects the
	// built-in uncompressed codec.
	Format codec.Format

	// EncoderID pins encoding to one plugin.
	EncoderID string

	// Params are plugin parameters, validated against the plugin's specs.
	Params codec.Params

	// Hidden marks the item hidden, as tiles of a grid usually are.
	Hidden bool
}

type writeProp struct {
	typ       bmff.FourCC
	payload   []byte
	essential bool
}

type writeItem struct {
	id     ItemID
	typ    bmff.FourCC
	data   []byte
	hidden bool
	props  []writeProp

	offset uint64
}

type writeRef struct {
	typ  bmff.FourCC
	from ItemID
	to   []ItemID
}

type writeGroup struct {
	typ     bmff.FourCC
	groupID uint32
	members []ItemID
}

func (c *Context) newWriteItem(typ bmff.FourCC, data []byte, hidden bool) *writeItem {
	it := &writeItem{id: c.nextID, typ: typ, data: data, hidden: hidden}
	c.nextID++
	c.writeItems = append(c.writeItems, it)
	return it
}

func (c *Context) writeItemByID(id ItemID) (*writeItem, error) {
	for _, it := range c.writeItems {
		if it.id == id {
			return it, nil
		}
	}
	return nil, fmt.Errorf("heif: no added item with id %d: %w", id, errdefs.ErrNotFound)
}

// itemTypeForFormat is the inverse of the item-type to format mapping used
// when reading.
func itemTypeForFormat(f codec.Format) (bmff.FourCC, bool) {
	switch f {
	case codec.FormatHEVC:
		return meta.ItemTypeHvc1, true
	case codec.FormatAVC:
		return meta.ItemTypeAvc1, true
	case codec.FormatAV1:
		return meta.ItemTypeAv01, true
	case codec.FormatVVC:
		return meta.ItemTypeVvc1, true
	case codec.FormatJPEG:
		return meta.ItemTypeJpeg, true
	case codec.FormatJPEG2000:
		return meta.ItemTypeJ2k1, true
	case codec.FormatUncompressed:
		return meta.ItemTypeUnci, true
	default:
		return bmff.FourCC{}, false
	}
}

func ispePayload(width, height uint32) []byte {
	b := bmff.NewBuilder()
	b.U32(0) // version and flags
	b.U32(width)
	b.U32(height)
	return b.Bytes()
}

// AddImage compresses img with the selected plugin and adds it as an item.
// The returned id is referenced by AddGrid, AddOverlay, AddThumbnail, and
// SetPrimaryImage.
func (c *Context) AddImage(img *pixel.Image, opts *EncodeOptions) (ItemID, error) {
	if opts == nil {
		opts = &EncodeOptions{}
	}
	format := opts.Format
	if format == codec.FormatUndefined {
		format = codec.FormatUncompressed
	}
	typ, ok := itemTypeForFormat(format)
	if !ok {
		return 0, fmt.Errorf("heif: cannot store format %s: %w", format, errdefs.ErrUnsupportedFormat)
	}
	enc, err := c.registry.Encoder(format, opts.EncoderID)
	if err != nil {
		return 0, err
	}
	res, err := enc.Encode(img, opts.Params)
	if err != nil {
		return 0, err
	}

	bounds := img.Img.Bounds()
	it := c.newWriteItem(typ, res.Coded, opts.Hidden)
	it.props = append(it.props, writeProp{
		typ:     meta.PropIspe,
		payload: ispePayload(uint32(bounds.Dx()), uint32(bounds.Dy())),
	})
	if len(res.Config) > 0 {
		configType, ok := meta.DecoderConfigType(format)
		if !ok {
			return 0, fmt.Errorf("heif: no configuration property for %s: %w", format, errdefs.ErrUnsupportedFormat)
		}
		it.props = append(it.props, writeProp{typ: configType, payload: res.Config, essential: true})
	}
	return it.id, nil
}

// AddGrid adds a grid item laid out row-major over the given tiles. The
// canvas is width by height; the tiles must fill it, with the last row and
// column cropped.
func (c *Context) AddGrid(tiles []ItemID, columns, rows int, width, height uint32) (ItemID, error) {
	if columns <= 0 || rows <= 0 || columns > 256 || rows > 256 {
		return 0, fmt.Errorf("heif: grid layout of %d rows by %d columns out of range", rows, columns)
	}
	if len(tiles) != columns*rows {
		return 0, fmt.Errorf("heif: %d tiles cannot fill a grid of %d rows by %d columns", len(tiles), rows, columns)
	}
	if err := c.limits.CheckNumberOfTiles(uint64(len(tiles))); err != nil {
		return 0, err
	}
	for _, id := range tiles {
		if _, err := c.writeItemByID(id); err != nil {
			return 0, err
		}
	}

	b := bmff.NewBuilder()
	wide := width > math.MaxUint16 || height > math.MaxUint16
	b.U8(0) // version
	if wide {
		b.U8(1)
	} else {
		b.U8(0)
	}
	b.U8(uint8(rows - 1))
	b.U8(uint8(columns - 1))
	if wide {
		b.U32(width)
		b.U32(height)
	} else {
		b.U16(uint16(width))
		b.U16(uint16(height))
	}

	it := c.newWriteItem(meta.ItemTypeGrid, b.Bytes(), false)
	it.props = append(it.props, writeProp{typ: meta.PropIspe, payload: ispePayload(width, height)})
	c.writeRefs = append(c.writeRefs, writeRef{typ: meta.RefDerived, from: it.id, to: append([]ItemID(nil), tiles...)})
	return it.id, nil
}

// OverlayPlacement positions one member image on an overlay canvas.
// Offsets may be negative.
type OverlayPlacement struct {
	Image ItemID
	X, Y  int32
}

// AddOverlay adds an iovl item compositing the placed members, in order,
// over a background color with 16-bit channels.
func (c *Context) AddOverlay(members []OverlayPlacement, width, height uint32, background [4]uint16) (ItemID, error) {
	if len(members) == 0 {
		return 0, fmt.Errorf("heif: overlay needs at least one member")
	}
	ids := make([]ItemID, len(members))
	for i, m := range members {
		if _, err := c.writeItemByID(m.Image); err != nil {
			return 0, err
		}
		ids[i] = m.Image
	}

	wide := width > math.MaxUint16 || height > math.MaxUint16
	for _, m := range members {
		if m.X < math.MinInt16 || m.X > math.MaxInt16 || m.Y < math.MinInt16 || m.Y > math.MaxInt16 {
			wide = true
		}
	}
	b := bmff.NewBuilder()
	b.U8(0) // version
	if wide {
		b.U8(1)
	} else {
		b.U8(0)
	}
	for _, ch := range background {
		b.U16(ch)
	}
	if wide {
		b.U32(width)
		b.U32(height)
	} else {
		b.U16(uint16(width))
		b.U16(uint16(height))
	}
	for _, m := range members {
		if wide {
			b.I32(m.X)
			b.I32(m.Y)
		} else {
			b.U16(uint16(int16(m.X)))
			b.U16(uint16(int16(m.Y)))
		}
	}

	it := c.newWriteItem(meta.ItemTypeIovl, b.Bytes(), false)
	it.props = append(it.props, writeProp{typ: meta.PropIspe, payload: ispePayload(width, height)})
	c.writeRefs = append(c.writeRefs, writeRef{typ: meta.RefDerived, from: it.id, to: ids})
	return it.id, nil
}

// AddThumbnail compresses img as a hidden item and links it to master as a
// thumbnail.
func (c *Context) AddThumbnail(master ItemID, img *pixel.Image, opts *EncodeOptions) (ItemID, error) {
	if _, err := c.writeItemByID(master); err != nil {
		return 0, err
	}
	var o EncodeOptions
	if opts != nil {
		o = *opts
	}
	o.Hidden = true
	id, err := c.AddImage(img, &o)
	if err != nil {
		return 0, err
	}
	c.writeRefs = append(c.writeRefs, writeRef{typ: meta.RefThumbnail, from: id, to: []ItemID{master}})
	return id, nil
}

// AddExifMetadata stores an EXIF blob and links it to master. exifData is
// the raw TIFF structure; the stored item prefixes it with the standard
// four-byte header offset.
func (c *Context) AddExifMetadata(master ItemID, exifData []byte) (ItemID, error) {
	if _, err := c.writeItemByID(master); err != nil {
		return 0, err
	}
	payload := make([]byte, 4+len(exifData))
	copy(payload[4:], exifData)
	it := c.newWriteItem(meta.ItemTypeExif, payload, false)
	c.writeRefs = append(c.writeRefs, writeRef{typ: meta.RefDescribes, from: it.id, to: []ItemID{master}})
	return it.id, nil
}

// AddEntityGroup creates an entity group of the given type over members and
// returns its group id. Group ids share the item id space.
func (c *Context) AddEntityGroup(typ bmff.FourCC, members []ItemID) (uint32, error) {
	if err := c.limits.CheckEntityGroupSize(uint64(len(members))); err != nil {
		return 0, err
	}
	for _, id := range members {
		if _, err := c.writeItemByID(id); err != nil {
			return 0, err
		}
	}
	groupID := uint32(c.nextID)
	c.nextID++
	c.writeGroups = append(c.writeGroups, writeGroup{typ: typ, groupID: groupID, members: append([]ItemID(nil), members...)})
	return groupID, nil
}

// SetPrimaryImage selects the file's primary image.
func (c *Context) SetPrimaryImage(id ItemID) error {
	if _, err := c.writeItemByID(id); err != nil {
		return err
	}
	c.primaryID = id
	c.hasPrimary = true
	return nil
}

// WriteTo serializes the added items as ftyp, meta, mdat. At least one
// image must have been added and a primary selected.
func (c *Context) WriteTo(w io.Writer) (int64, error) {
	if len(c.writeItems) == 0 {
		return 0, fmt.Errorf("heif: nothing to write")
	}
	if !c.hasPrimary {
		return 0, fmt.Errorf("heif: no primary image selected")
	}
	// pitm, infe, iloc, and iref are written in their 16-bit id versions.
	for _, it := range c.writeItems {
		if it.id > math.MaxUint16 {
			return 0, fmt.Errorf("heif: item id %d does not fit the 16-bit box versions this writer emits", it.id)
		}
	}

	ftyp := c.buildFtyp()

	// The meta box's length does not depend on the offsets it carries,
	// which are fixed-width, so build it once to measure, assign real
	// offsets, and build again.
	metaLen := len(c.buildMeta())
	dataStart := uint64(len(ftyp)) + uint64(metaLen) + mdatHeaderLen
	off := dataStart
	for _, it := range c.writeItems {
		it.offset = off
		off += uint64(len(it.data))
	}
	metaBox := c.buildMeta()
	if len(metaBox) != metaLen {
		return 0, fmt.Errorf("heif: meta box changed size between passes")
	}

	var n int64
	for _, chunk := range [][]byte{ftyp, metaBox} {
		m, err := w.Write(chunk)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}

	mdat := bmff.NewBuilder()
	mdat.Box(bmff.TypeMdat, func(p *bmff.Builder) {
		for _, it := range c.writeItems {
			p.Raw(it.data)
		}
	})
	m, err := mdat.WriteTo(w)
	return n + m, err
}

const mdatHeaderLen = 8

// WriteToFile serializes the added items to the named file.
func (c *Context) WriteToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func (c *Context) buildFtyp() []byte {
	b := bmff.NewBuilder()
	b.Box(bmff.TypeFtyp, func(p *bmff.Builder) {
		p.FourCC(BrandMif1)
		p.U32(0) // minor version
		p.FourCC(BrandMif1)
		p.FourCC(BrandHeic)
	})
	return b.Bytes()
}

func (c *Context) buildMeta() []byte {
	props, propIndex := c.collectProps()

	b := bmff.NewBuilder()
	b.FullBox(bmff.TypeMeta, 0, 0, func(p *bmff.Builder) {
		p.FullBox(bmff.TypeHdlr, 0, 0, func(h *bmff.Builder) {
			h.U32(0) // pre_defined
			h.FourCC(handlerPict)
			h.U32(0)
			h.U32(0)
			h.U32(0)
			h.CString("")
		})

		p.FullBox(bmff.TypePitm, 0, 0, func(h *bmff.Builder) {
			h.U16(uint16(c.primaryID))
		})

		p.FullBox(bmff.TypeIinf, 0, 0, func(h *bmff.Builder) {
			h.U16(uint16(len(c.writeItems)))
			for _, it := range c.writeItems {
				flags := uint32(0)
				if it.hidden {
					flags = 1
				}
				h.FullBox(bmff.TypeInfe, 2, flags, func(e *bmff.Builder) {
					e.U16(uint16(it.id))
					e.U16(0) // protection index
					e.FourCC(it.typ)
					e.CString("")
				})
			}
		})

		p.FullBox(bmff.TypeIloc, 0, 0, func(h *bmff.Builder) {
			h.U8(0x44) // offset and length size: 4 bytes each
			h.U8(0x00) // base offset size 0
			h.U16(uint16(len(c.writeItems)))
			for _, it := range c.writeItems {
				h.U16(uint16(it.id))
				h.U16(0) // data reference index
				h.U16(1) // extent count
				h.U32(uint32(it.offset))
				h.U32(uint32(len(it.data)))
			}
		})

		p.Box(bmff.TypeIprp, func(h *bmff.Builder) {
			h.Box(bmff.TypeIpco, func(co *bmff.Builder) {
				for _, prop := range props {
					co.Box(prop.typ, func(pb *bmff.Builder) {
						pb.Raw(prop.payload)
					})
				}
			})
			h.FullBox(bmff.TypeIpma, 0, 0, func(a *bmff.Builder) {
				var withProps []*writeItem
				for _, it := range c.writeItems {
					if len(it.props) > 0 {
						withProps = append(withProps, it)
					}
				}
				a.U32(uint32(len(withProps)))
				for _, it := range withProps {
					a.U16(uint16(it.id))
					a.U8(uint8(len(it.props)))
					for _, prop := range it.props {
						idx := propIndex[propKey(prop)]
						v := uint8(idx)
						if prop.essential {
							v |= 0x80
						}
						a.U8(v)
					}
				}
			})
		})

		if len(c.writeRefs) > 0 {
			p.FullBox(bmff.TypeIref, 0, 0, func(h *bmff.Builder) {
				for _, ref := range c.writeRefs {
					h.Box(ref.typ, func(rb *bmff.Builder) {
						rb.U16(uint16(ref.from))
						rb.U16(uint16(len(ref.to)))
						for _, to := range ref.to {
							rb.U16(uint16(to))
						}
					})
				}
			})
		}

		if len(c.writeGroups) > 0 {
			p.Box(bmff.TypeGrpl, func(h *bmff.Builder) {
				for _, grp := range c.writeGroups {
					h.FullBox(grp.typ, 0, 0, func(gb *bmff.Builder) {
						gb.U32(grp.groupID)
						gb.U32(uint32(len(grp.members)))
						for _, m := range grp.members {
							gb.U32(uint32(m))
						}
					})
				}
			})
		}
	})
	return b.Bytes()
}

func propKey(p writeProp) string { return string(p.typ[:]) + string(p.payload) }

// collectProps deduplicates property payloads into the shared container and
// returns 1-based indices into it.
func (c *Context) collectProps() ([]writeProp, map[string]int) {
	index := make(map[string]int)
	var props []writeProp
	for _, it := range c.writeItems {
		for _, prop := range it.props {
			key := propKey(prop)
			if _, ok := index[key]; ok {
				continue
			}
			props = append(props, prop)
			index[key] = len(props)
		}
	}
	return props, index
}
