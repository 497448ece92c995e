package bmff

import (
	"encoding/binary"

	"github.com/ooopus/libheif/errdefs"
)

// Cursor reads the fixed-width fields and tables of a box payload held in
// memory. Errors are sticky: after the first failed read every later read
// reports the same error, so parsers can read a row of fields and check once.
type Cursor struct {
	data []byte
	off  int
	err  error
}

// NewCursor returns a cursor over a box payload.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Err returns the sticky error, if any.
func (c *Cursor) Err() error { return c.err }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	if c.err != nil {
		return 0
	}
	return len(c.data) - c.off
}

func (c *Cursor) fail(n int) {
	if c.err == nil {
		c.err = errdefs.Malformed("bmff: payload truncated: need %d bytes at offset %d of %d", n, c.off, len(c.data))
	}
}

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if len(c.data)-c.off < n {
		c.fail(n)
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) { c.take(n) }

// Uint8 reads one byte.
func (c *Cursor) Uint8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a big-endian 16-bit value.
func (c *Cursor) Uint16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Uint32 reads a big-endian 32-bit value.
func (c *Cursor) Uint32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 reads a big-endian signed 32-bit value.
func (c *Cursor) Int32() int32 { return int32(c.Uint32()) }

// Uint64 reads a big-endian 64-bit value.
func (c *Cursor) Uint64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// UintN reads a big-endian unsigned value of 0, 1, 2, 4, or 8 bytes, the
// widths the item-location table encodes in its size nibbles.
func (c *Cursor) UintN(bytes int) uint64 {
	switch bytes {
	case 0:
		return 0
	case 1:
		return uint64(c.Uint8())
	case 2:
		return uint64(c.Uint16())
	case 4:
		return uint64(c.Uint32())
	case 8:
		return c.Uint64()
	default:
		if c.err == nil {
			c.err = errdefs.Malformed("bmff: invalid field width %d", bytes)
		}
		return 0
	}
}

// FourCC reads a 4-byte type code.
func (c *Cursor) FourCC() FourCC {
	b := c.take(4)
	if b == nil {
		return FourCC{}
	}
	var f FourCC
	copy(f[:], b)
	return f
}

// Bytes reads n raw bytes. The returned slice aliases the payload.
func (c *Cursor) Bytes(n int) []byte { return c.take(n) }

// Rest returns all unread bytes. The returned slice aliases the payload.
func (c *Cursor) Rest() []byte {
	if c.err != nil {
		return nil
	}
	b := c.data[c.off:]
	c.off = len(c.data)
	return b
}

// CString reads a NUL-terminated string.
func (c *Cursor) CString() string {
	if c.err != nil {
		return ""
	}
	for i := c.off; i < len(c.data); i++ {
		if c.data[i] == 0 {
			s := string(c.data[c.off:i])
			c.off = i + 1
			return s
		}
	}
	c.err = errdefs.Malformed("bmff: unterminated string at offset %d", c.off)
	return ""
}

// FullBox reads the 4-byte version/flags header that prefixes a full box
// payload.
func (c *Cursor) FullBox() (version uint8, flags uint32) {
	b := c.take(fullBoxHeaderSize)
	if b == nil {
		return 0, 0
	}
	return b[0], uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ScanBoxes iterates the boxes packed back to back in data, such as the
// children of an in-memory container payload, calling fn with each box type
// and payload. Large (64-bit) sizes are honored; child counts are bounded by
// the caller's limits before this is reached.
func ScanBoxes(data []byte, fn func(typ FourCC, payload []byte) error) error {
	off := 0
	for off < len(data) {
		if len(data)-off < headerSize {
			return errdefs.Malformed("bmff: truncated child box header at offset %d", off)
		}
		size := uint64(binary.BigEndian.Uint32(data[off : off+4]))
		var typ FourCC
		copy(typ[:], data[off+4:off+8])
		hlen := headerSize
		switch size {
		case sizeToEOF:
			size = uint64(len(data) - off)
		case sizeUsesLargeField:
			if len(data)-off < headerSize+largeSizeAddition {
				return errdefs.Malformed("bmff: truncated large size of box %q", typ)
			}
			size = binary.BigEndian.Uint64(data[off+8 : off+16])
			hlen += largeSizeAddition
		}
		if size < uint64(hlen) || size > uint64(len(data)-off) {
			return errdefs.Malformed("bmff: child box %q size %d out of bounds (have %d)", typ, size, len(data)-off)
		}
		if err := fn(typ, data[off+hlen:off+int(size)]); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
		off += int(size)
	}
	return nil
}
