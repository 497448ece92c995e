package bmff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ooopus/libheif/internal/pool"
	"github.com/ooopus/libheif/stream"
)

// CopyBox re-serializes a parsed, unmodified box byte-identically: the
// header is emitted in the same encoding it was read in (32-bit or large
// size, to-EOF form) and the payload is streamed through unchanged.
func CopyBox(w io.Writer, r *Reader, b *Box) error {
	var hdr [headerSize + largeSizeAddition]byte
	hlen := headerSize
	switch {
	case b.DataEnd < 0:
		binary.BigEndian.PutUint32(hdr[:4], 0)
	case b.Large:
		binary.BigEndian.PutUint32(hdr[:4], sizeUsesLargeField)
		binary.BigEndian.PutUint64(hdr[8:16], b.Size)
		hlen += largeSizeAddition
	default:
		if b.Size > math.MaxUint32 {
			return fmt.Errorf("bmff: box %q size %d needs the large encoding", b.Type, b.Size)
		}
		binary.BigEndian.PutUint32(hdr[:4], uint32(b.Size))
	}
	copy(hdr[4:8], b.Type[:])
	if _, err := w.Write(hdr[:hlen]); err != nil {
		return err
	}
	if b.Type == TypeUUID {
		if _, err := w.Write(b.UUID[:]); err != nil {
			return err
		}
	}
	if b.DataEnd < 0 {
		return fmt.Errorf("bmff: cannot copy unbounded box %q", b.Type)
	}

	// Stream the payload through one pooled buffer rather than allocating
	// the whole box.
	const chunk = 1 << 20
	buf := pool.Get(chunk)
	defer pool.Put(buf)
	for pos := b.DataStart; pos < b.DataEnd; {
		end := pos + chunk
		if end > b.DataEnd {
			end = b.DataEnd
		}
		if err := stream.ReadRangeInto(r.Source(), buf, pos, end); err != nil {
			return wrapStreamErr(err)
		}
		if _, err := w.Write(buf[:end-pos]); err != nil {
			return err
		}
		pos = end
	}
	return nil
}

// Builder assembles a box tree for output. Child boxes are built in
// sub-builders so each box's size field can be computed when it closes.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Bytes returns the serialized boxes.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return b.buf.Len() }

// WriteTo writes the serialized boxes to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.buf.Bytes())
	return int64(n), err
}

// Box appends a box of the given type whose payload is produced by fn.
func (b *Builder) Box(typ FourCC, fn func(*Builder)) {
	var inner Builder
	fn(&inner)
	b.writeHeader(typ, inner.buf.Len())
	b.buf.Write(inner.buf.Bytes())
}

// FullBox appends a full box with the given version and 24-bit flags.
func (b *Builder) FullBox(typ FourCC, version uint8, flags uint32, fn func(*Builder)) {
	b.Box(typ, func(p *Builder) {
		p.U8(version)
		p.U8(uint8(flags >> 16))
		p.U8(uint8(flags >> 8))
		p.U8(uint8(flags))
		fn(p)
	})
}

func (b *Builder) writeHeader(typ FourCC, payloadLen int) {
	total := uint64(payloadLen) + headerSize
	if total > math.MaxUint32 {
		var hdr [headerSize + largeSizeAddition]byte
		binary.BigEndian.PutUint32(hdr[:4], sizeUsesLargeField)
		copy(hdr[4:8], typ[:])
		binary.BigEndian.PutUint64(hdr[8:16], total+largeSizeAddition)
		b.buf.Write(hdr[:])
		return
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(total))
	copy(hdr[4:8], typ[:])
	b.buf.Write(hdr[:])
}

// U8 appends one byte.
func (b *Builder) U8(v uint8) { b.buf.WriteByte(v) }

// U16 appends a big-endian 16-bit value.
func (b *Builder) U16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.buf.Write(buf[:])
}

// U32 appends a big-endian 32-bit value.
func (b *Builder) U32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.buf.Write(buf[:])
}

// I32 appends a big-endian signed 32-bit value.
func (b *Builder) I32(v int32) { b.U32(uint32(v)) }

// U64 appends a big-endian 64-bit value.
func (b *Builder) U64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.buf.Write(buf[:])
}

// FourCC appends a 4-byte type code.
func (b *Builder) FourCC(f FourCC) { b.buf.Write(f[:]) }

// Raw appends raw bytes.
func (b *Builder) Raw(p []byte) { b.buf.Write(p) }

// CString appends a NUL-terminated string.
func (b *Builder) CString(s string) {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}
