package meta

import (
	"github.com/ooopus/libheif/bmff"
	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/security"
)

// Property types with decoded forms.
var (
	PropIspe = bmff.FCC("ispe")
	PropIrot = bmff.FCC("irot")
	PropImir = bmff.FCC("imir")
	PropClap = bmff.FCC("clap")
	PropPixi = bmff.FCC("pixi")
	PropAuxC = bmff.FCC("auxC")
	PropColr = bmff.FCC("colr")
)

// Ispe is the spatial extents property: the item's uncropped, untransformed
// dimensions.
type Ispe struct {
	Width  uint32
	Height uint32
}

// Irot rotates the image by Angle * 90 degrees counter-clockwise.
type Irot struct {
	Angle uint8 // 0..3
}

// MirrorAxis selects the axis an Imir property mirrors across.
type MirrorAxis uint8

const (
	MirrorVertical   MirrorAxis = 0 // flip left-right
	MirrorHorizontal MirrorAxis = 1 // flip top-bottom
)

// Imir mirrors the image across Axis.
type Imir struct {
	Axis MirrorAxis
}

// Clap is the clean-aperture property. All values are fractions; the crop
// window is centered at (horizOff, vertOff) relative to the image center.
type Clap struct {
	WidthN, WidthD       int32
	HeightN, HeightD     int32
	HorizOffN, HorizOffD int32
	VertOffN, VertOffD   int32
}

// Pixi declares the bit depth of each channel.
type Pixi struct {
	BitsPerChannel []uint8
}

// AuxC declares the role of an auxiliary image, such as an alpha plane or a
// depth map, by URN.
type AuxC struct {
	AuxType string
	Subtype []byte
}

// Colr color types.
var (
	ColrTypeNclx = bmff.FCC("nclx")
	ColrTypeICC  = bmff.FCC("prof")
	ColrTypeRICC = bmff.FCC("rICC")
)

// Colr is the color information property: either an nclx triple or an
// embedded ICC profile.
type Colr struct {
	ColorType bmff.FourCC

	// nclx fields, valid when ColorType is nclx.
	Primaries uint16
	Transfer  uint16
	Matrix    uint16
	FullRange bool

	// ICC holds the raw profile when ColorType is prof or rICC.
	ICC []byte
}

// parseProperty decodes a property container entry. Unknown property types
// are carried with their raw payload so re-serialization keeps them.
func parseProperty(typ bmff.FourCC, payload []byte, limits *security.Limits) (*Property, error) {
	prop := &Property{Type: typ, Payload: payload}
	var err error
	switch typ {
	case PropIspe:
		prop.Parsed, err = parseIspe(payload)
	case PropIrot:
		prop.Parsed, err = parseIrot(payload)
	case PropImir:
		prop.Parsed, err = parseImir(payload)
	case PropClap:
		prop.Parsed, err = parseClap(payload)
	case PropPixi:
		prop.Parsed, err = parsePixi(payload, limits)
	case PropAuxC:
		prop.Parsed, err = parseAuxC(payload)
	case PropColr:
		prop.Parsed, err = parseColr(payload, limits)
	}
	if err != nil {
		return nil, err
	}
	return prop, nil
}

func parseIspe(payload []byte) (*Ispe, error) {
	c := bmff.NewCursor(payload)
	c.FullBox()
	p := &Ispe{Width: c.Uint32(), Height: c.Uint32()}
	return p, c.Err()
}

func parseIrot(payload []byte) (*Irot, error) {
	c := bmff.NewCursor(payload)
	b := c.Uint8()
	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Irot{Angle: b & 3}, nil
}

func parseImir(payload []byte) (*Imir, error) {
	c := bmff.NewCursor(payload)
	b := c.Uint8()
	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Imir{Axis: MirrorAxis(b & 1)}, nil
}

func parseClap(payload []byte) (*Clap, error) {
	c := bmff.NewCursor(payload)
	p := &Clap{
		WidthN: c.Int32(), WidthD: c.Int32(),
		HeightN: c.Int32(), HeightD: c.Int32(),
		HorizOffN: c.Int32(), HorizOffD: c.Int32(),
		VertOffN: c.Int32(), VertOffD: c.Int32(),
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if p.WidthD == 0 || p.HeightD == 0 || p.HorizOffD == 0 || p.VertOffD == 0 {
		return nil, errdefs.Malformed("meta: clean aperture with zero denominator")
	}
	return p, nil
}

func parsePixi(payload []byte, limits *security.Limits) (*Pixi, error) {
	c := bmff.NewCursor(payload)
	c.FullBox()
	n := uint64(c.Uint8())
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := limits.CheckComponents(n); err != nil {
		return nil, err
	}
	bits := c.Bytes(int(n))
	if err := c.Err(); err != nil {
		return nil, err
	}
	p := &Pixi{BitsPerChannel: make([]uint8, n)}
	copy(p.BitsPerChannel, bits)
	return p, nil
}

func parseAuxC(payload []byte) (*AuxC, error) {
	c := bmff.NewCursor(payload)
	c.FullBox()
	p := &AuxC{AuxType: c.CString()}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if rest := c.Rest(); len(rest) > 0 {
		p.Subtype = append([]byte(nil), rest...)
	}
	return p, nil
}

func parseColr(payload []byte, limits *security.Limits) (*Colr, error) {
	c := bmff.NewCursor(payload)
	p := &Colr{ColorType: c.FourCC()}
	if err := c.Err(); err != nil {
		return nil, err
	}
	switch p.ColorType {
	case ColrTypeNclx:
		p.Primaries = c.Uint16()
		p.Transfer = c.Uint16()
		p.Matrix = c.Uint16()
		p.FullRange = c.Uint8()&0x80 != 0
		return p, c.Err()
	case ColrTypeICC, ColrTypeRICC:
		icc := c.Rest()
		if err := limits.CheckColorProfileSize(uint64(len(icc))); err != nil {
			return nil, err
		}
		p.ICC = append([]byte(nil), icc...)
		return p, nil
	default:
		// Unknown color type; keep the raw payload only.
		return p, nil
	}
}
