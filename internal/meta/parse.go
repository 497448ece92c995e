package meta

import (
	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/errdefs"
)

// Parse builds the item graph from the top-level meta box. The children are
// walked lazily through the box reader, each payload gated by the limits on
// its own, and then interpreted in a fixed pass order — item info,
// locations, properties, references, groups — so a tripped item-count limit
// aborts before any later table is touched.
func Parse(r *bmff.Reader, metaBox *bmff.Box) (*Graph, error) {
	if size := metaBox.PayloadSize(); size >= 0 && size < 4 {
		return nil, errdefs.Malformed("meta: box of %d bytes too short for its full-box header", size)
	}
	// meta is a full box; its children start after version/flags.
	inner := *metaBox
	inner.DataStart += 4

	g := &Graph{
		items:  make(map[ItemID]*Item),
		reader: r,
		limits: r.Limits(),
	}

	raw := make(map[bmff.FourCC][]byte)
	var ipmaPayloads [][]byte
	var irefPayload []byte
	err := r.Children(&inner, func(b *bmff.Box) error {
		payload, err := r.Payload(b)
		if err != nil {
			return err
		}
		switch b.Type {
		case bmff.TypeIref:
			irefPayload = payload
		case bmff.TypeIpma:
			ipmaPayloads = append(ipmaPayloads, payload)
		default:
			raw[b.Type] = payload
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hdlr, ok := raw[bmff.TypeHdlr]; ok {
		if err := g.parseHdlr(hdlr); err != nil {
			return nil, err
		}
	}
	if pitm, ok := raw[bmff.TypePitm]; ok {
		if err := g.parsePitm(pitm); err != nil {
			return nil, err
		}
	}
	if idat, ok := raw[bmff.TypeIdat]; ok {
		g.idat = idat
	}

	iinf, ok := raw[bmff.TypeIinf]
	if !ok {
		return nil, errdefs.Malformed("meta: missing item info box")
	}
	if err := g.parseIinf(iinf); err != nil {
		return nil, err
	}
	if iloc, ok := raw[bmff.TypeIloc]; ok {
		if err := g.parseIloc(iloc); err != nil {
			return nil, err
		}
	}
	if iprp, ok := raw[bmff.TypeIprp]; ok {
		if err := g.parseIprp(iprp, ipmaPayloads); err != nil {
			return nil, err
		}
	}
	if irefPayload != nil {
		if err := g.parseIref(irefPayload); err != nil {
			return nil, err
		}
	}
	if grpl, ok := raw[bmff.TypeGrpl]; ok {
		if err := g.parseGrpl(grpl); err != nil {
			return nil, err
		}
	}

	if err := g.checkDerivationCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) parseHdlr(payload []byte) error {
	c := bmff.NewCursor(payload)
	c.FullBox()
	c.Skip(4) // pre_defined
	g.HandlerType = c.FourCC()
	return c.Err()
}

func (g *Graph) parsePitm(payload []byte) error {
	c := bmff.NewCursor(payload)
	version, _ := c.FullBox()
	if version == 0 {
		g.PrimaryID = ItemID(c.Uint16())
	} else {
		g.PrimaryID = ItemID(c.Uint32())
	}
	g.HasPrimary = true
	return c.Err()
}

func (g *Graph) parseIinf(payload []byte) error {
	c := bmff.NewCursor(payload)
	version, _ := c.FullBox()
	var declared uint64
	if version == 0 {
		declared = uint64(c.Uint16())
	} else {
		declared = uint64(c.Uint32())
	}
	if err := c.Err(); err != nil {
		return err
	}
	if err := g.limits.CheckItems(declared); err != nil {
		return err
	}

	var count uint64
	err := bmff.ScanBoxes(c.Rest(), func(typ bmff.FourCC, payload []byte) error {
		if typ != bmff.TypeInfe {
			return nil
		}
		count++
		if err := g.limits.CheckItems(count); err != nil {
			return err
		}
		return g.parseInfe(payload)
	})
	if err != nil {
		return err
	}
	if count != declared {
		return errdefs.Malformed("meta: item info box declares %d entries but contains %d", declared, count)
	}
	return nil
}

func (g *Graph) parseInfe(payload []byte) error {
	c := bmff.NewCursor(payload)
	version, flags := c.FullBox()
	if version < 2 {
		return errdefs.Malformed("meta: item info entry version %d is not supported", version)
	}
	it := &Item{Hidden: flags&1 != 0}
	if version == 2 {
		it.ID = ItemID(c.Uint16())
	} else {
		it.ID = ItemID(c.Uint32())
	}
	it.ProtectionIndex = c.Uint16()
	it.Type = c.FourCC()
	it.Name = c.CString()
	switch it.Type {
	case ItemTypeMime:
		it.ContentType = c.CString()
		if c.Err() == nil && c.Remaining() > 0 {
			it.ContentEncoding = c.CString()
		}
	case ItemTypeURI:
		it.URIType = c.CString()
	}
	if err := c.Err(); err != nil {
		return err
	}
	if _, dup := g.items[it.ID]; dup {
		return errdefs.Malformed("meta: duplicate item id %d", it.ID)
	}
	g.items[it.ID] = it
	g.order = append(g.order, it.ID)
	return nil
}

func (g *Graph) parseIloc(payload []byte) error {
	c := bmff.NewCursor(payload)
	version, _ := c.FullBox()
	if version > 2 {
		return errdefs.Malformed("meta: item location box version %d is not supported", version)
	}
	b := c.Uint8()
	offsetSize := int(b >> 4)
	lengthSize := int(b & 0xf)
	b = c.Uint8()
	baseOffsetSize := int(b >> 4)
	indexSize := 0
	if version >= 1 {
		indexSize = int(b & 0xf)
	}

	var count uint64
	if version < 2 {
		count = uint64(c.Uint16())
	} else {
		count = uint64(c.Uint32())
	}
	if err := g.limits.CheckItems(count); err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		var id ItemID
		if version < 2 {
			id = ItemID(c.Uint16())
		} else {
			id = ItemID(c.Uint32())
		}
		loc := &Location{}
		if version >= 1 {
			loc.ConstructionMethod = uint8(c.Uint16() & 0xf)
		}
		loc.DataReferenceIndex = c.Uint16()
		loc.BaseOffset = c.UintN(baseOffsetSize)

		extentCount := uint64(c.Uint16())
		if err := c.Err(); err != nil {
			return err
		}
		if err := g.limits.CheckIlocExtents(extentCount); err != nil {
			return err
		}
		loc.Extents = make([]Extent, 0, extentCount)
		for e := uint64(0); e < extentCount; e++ {
			var ext Extent
			if version >= 1 && indexSize > 0 {
				ext.Index = c.UintN(indexSize)
			}
			ext.Offset = c.UintN(offsetSize)
			ext.Length = c.UintN(lengthSize)
			if ext.Offset+ext.Length < ext.Offset {
				return errdefs.Malformed("meta: extent of item %d overflows", id)
			}
			loc.Extents = append(loc.Extents, ext)
		}
		if err := c.Err(); err != nil {
			return err
		}

		it, ok := g.items[id]
		if !ok {
			// A location for an undeclared item is tolerated; it is
			// unreachable through the graph.
			continue
		}
		it.Location = loc
	}
	return nil
}

func (g *Graph) parseIprp(payload []byte, ipmaPayloads [][]byte) error {
	var ipco []byte
	err := bmff.ScanBoxes(payload, func(typ bmff.FourCC, child []byte) error {
		switch typ {
		case bmff.TypeIpco:
			ipco = child
		case bmff.TypeIpma:
			ipmaPayloads = append(ipmaPayloads, child)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if ipco == nil {
		return errdefs.Malformed("meta: item properties box without property container")
	}

	var count uint64
	err = bmff.ScanBoxes(ipco, func(typ bmff.FourCC, child []byte) error {
		count++
		if err := g.limits.CheckChildrenPerBox(count); err != nil {
			return err
		}
		prop, err := parseProperty(typ, child, g.limits)
		if err != nil {
			return err
		}
		g.Properties = append(g.Properties, prop)
		return nil
	})
	if err != nil {
		return err
	}

	for _, ipma := range ipmaPayloads {
		if err := g.parseIpma(ipma); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) parseIpma(payload []byte) error {
	c := bmff.NewCursor(payload)
	version, flags := c.FullBox()
	count := c.Uint32()
	for i := uint32(0); i < count; i++ {
		var id ItemID
		if version < 1 {
			id = ItemID(c.Uint16())
		} else {
			id = ItemID(c.Uint32())
		}
		assocCount := uint64(c.Uint8())
		if err := c.Err(); err != nil {
			return err
		}
		if err := g.limits.CheckComponents(assocCount); err != nil {
			return err
		}

		it := g.items[id]
		for a := uint64(0); a < assocCount; a++ {
			var index uint32
			var essential bool
			if flags&1 != 0 {
				v := c.Uint16()
				essential = v&0x8000 != 0
				index = uint32(v & 0x7fff)
			} else {
				v := c.Uint8()
				essential = v&0x80 != 0
				index = uint32(v & 0x7f)
			}
			if err := c.Err(); err != nil {
				return err
			}
			if index == 0 {
				continue // padding entry
			}
			if int(index) > len(g.Properties) {
				return errdefs.Malformed("meta: property association index %d exceeds %d container entries", index, len(g.Properties))
			}
			if it != nil {
				it.Properties = append(it.Properties, PropertyRef{
					Property:  g.Properties[index-1],
					Essential: essential,
				})
			}
		}
	}
	return c.Err()
}

func (g *Graph) parseIref(payload []byte) error {
	c := bmff.NewCursor(payload)
	version, _ := c.FullBox()
	if err := c.Err(); err != nil {
		return err
	}

	var count uint64
	return bmff.ScanBoxes(c.Rest(), func(typ bmff.FourCC, child []byte) error {
		count++
		if err := g.limits.CheckChildrenPerBox(count); err != nil {
			return err
		}
		rc := bmff.NewCursor(child)
		ref := &Reference{Type: typ}
		if version == 0 {
			ref.From = ItemID(rc.Uint16())
		} else {
			ref.From = ItemID(rc.Uint32())
		}
		n := uint64(rc.Uint16())
		if err := rc.Err(); err != nil {
			return err
		}
		if err := g.limits.CheckComponents(n); err != nil {
			return err
		}
		ref.To = make([]ItemID, 0, n)
		for i := uint64(0); i < n; i++ {
			if version == 0 {
				ref.To = append(ref.To, ItemID(rc.Uint16()))
			} else {
				ref.To = append(ref.To, ItemID(rc.Uint32()))
			}
		}
		if err := rc.Err(); err != nil {
			return err
		}
		g.References = append(g.References, ref)
		return nil
	})
}

func (g *Graph) parseGrpl(payload []byte) error {
	var count uint64
	return bmff.ScanBoxes(payload, func(typ bmff.FourCC, child []byte) error {
		count++
		if err := g.limits.CheckChildrenPerBox(count); err != nil {
			return err
		}
		c := bmff.NewCursor(child)
		c.FullBox()
		grp := &EntityGroup{Type: typ}
		grp.GroupID = c.Uint32()
		n := uint64(c.Uint32())
		if err := c.Err(); err != nil {
			return err
		}
		if err := g.limits.CheckEntityGroupSize(n); err != nil {
			return err
		}
		grp.Members = make([]ItemID, 0, n)
		for i := uint64(0); i < n; i++ {
			grp.Members = append(grp.Members, ItemID(c.Uint32()))
		}
		if err := c.Err(); err != nil {
			return err
		}
		g.Groups = append(g.Groups, grp)
		return nil
	})
}

// checkDerivationCycles rejects cycles through derived-image edges; a grid
// that lists itself as a tile, directly or transitively, is not a feature.
func (g *Graph) checkDerivationCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[ItemID]int)
	var visit func(id ItemID) error
	visit = func(id ItemID) error {
		switch state[id] {
		case gray:
			return errdefs.Malformed("meta: derivation cycle through item %d", id)
		case black:
			return nil
		}
		state[id] = gray
		for _, r := range g.References {
			if r.Type != RefDerived || r.From != id {
				continue
			}
			for _, to := range r.To {
				if err := visit(to); err != nil {
					return err
				}
			}
		}
		state[id] = black
		return nil
	}
	for _, id := range g.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
