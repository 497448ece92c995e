// Package bmff tokenizes and serializes ISO base-media-file-format box
// trees, as used by HEIF and AVIF images.
//
// The reader is deliberately lazy: a Box records only its type and payload
// range, and children are visited one at a time through Children, so a file
// declaring deeply nested or numerous boxes is rejected by the security
// limits before anything proportional to its claims is materialized.
//
// All reads are gated on the stream source's known length first, which lets
// parsing proceed against a file that is still growing.
package bmff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/security"
	"github.com/ooopus/libheif/stream"
)

// FourCC is a 4-byte ASCII type code identifying a box or item kind.
type FourCC [4]byte

// FCC converts a 4-character string literal to a FourCC.
func FCC(s string) FourCC {
	if len(s) != 4 {
		panic("bmff: FourCC literal must be 4 bytes")
	}
	return FourCC{s[0], s[1], s[2], s[3]}
}

func (f FourCC) String() string { return string(f[:]) }

// Box types handled by this module.
var (
	TypeFtyp = FCC("ftyp")
	TypeMeta = FCC("meta")
	TypeMdat = FCC("mdat")
	TypeFree = FCC("free")
	TypeUUID = FCC("uuid")

	TypeHdlr = FCC("hdlr")
	TypePitm = FCC("pitm")
	TypeIinf = FCC("iinf")
	TypeInfe = FCC("infe")
	TypeIloc = FCC("iloc")
	TypeIdat = FCC("idat")
	TypeIref = FCC("iref")
	TypeIprp = FCC("iprp")
	TypeIpco = FCC("ipco")
	TypeIpma = FCC("ipma")
	TypeGrpl = FCC("grpl")
)

// containers whose children are themselves boxes.
var containerTypes = map[FourCC]bool{
	TypeIprp:    true,
	TypeIpco:    true,
	TypeGrpl:    true,
	FCC("moov"): true,
	FCC("dinf"): true,
}

// IsContainer reports whether boxes of type t nest further boxes directly
// (without a full-box header).
func IsContainer(t FourCC) bool { return containerTypes[t] }

const (
	headerSize         = 8
	largeSizeAddition  = 8
	uuidTypeAddition   = 16
	fullBoxHeaderSize  = 4
	sizeToEOF          = 0
	sizeUsesLargeField = 1
)

// Box is one tokenized box: its type, declared size, and absolute payload
// range within the stream. Children are not materialized; visit them with
// Reader.Children.
type Box struct {
	Type FourCC

	// Size is the declared total size including the header. Zero means
	// the box extends to the end of the file (top level only).
	Size uint64

	// Large records that the size was encoded in the 64-bit form, so an
	// unmodified box re-serializes byte-identically.
	Large bool

	// UUID holds the extended type when Type is "uuid".
	UUID [16]byte

	// Start is the absolute offset of the box header; DataStart and
	// DataEnd delimit the payload. DataEnd is -1 for a to-EOF box on a
	// source of unknown length.
	Start     int64
	DataStart int64
	DataEnd   int64
}

// PayloadSize returns the payload byte count, or -1 when unknown.
func (b *Box) PayloadSize() int64 {
	if b.DataEnd < 0 {
		return -1
	}
	return b.DataEnd - b.DataStart
}

// ErrStop terminates Children iteration early without error.
var ErrStop = errors.New("bmff: stop iteration")

// Reader tokenizes boxes from a stream source, enforcing the given security
// limits at every size-dependent decision.
type Reader struct {
	src    stream.Reader
	limits *security.Limits
}

// NewReader returns a Reader over src. limits must not be nil.
func NewReader(src stream.Reader, limits *security.Limits) *Reader {
	return &Reader{src: src, limits: limits}
}

// Source returns the underlying stream source.
func (r *Reader) Source() stream.Reader { return r.src }

// Limits returns the limits the reader enforces.
func (r *Reader) Limits() *security.Limits { return r.limits }

// ReadBoxAt parses the box header at offset. rangeEnd bounds the box
// (exclusive); pass -1 when the enclosing length is unknown, in which case
// availability is established through the source's grow protocol.
// io.EOF is returned when offset is exactly the end of the range or file.
func (r *Reader) ReadBoxAt(offset, rangeEnd int64) (*Box, error) {
	if rangeEnd >= 0 && offset == rangeEnd {
		return nil, io.EOF
	}
	if rangeEnd >= 0 && offset > rangeEnd {
		return nil, errdefs.Malformed("bmff: box offset %d beyond range end %d", offset, rangeEnd)
	}
	if rangeEnd < 0 {
		switch r.src.WaitForFileSize(offset + headerSize) {
		case stream.SizeReached:
		case stream.SizeBeyondEOF:
			if st := r.src.WaitForFileSize(offset + 1); st != stream.SizeReached {
				return nil, io.EOF
			}
			return nil, errdefs.Malformed("bmff: truncated box header at %d", offset)
		default:
			return nil, fmt.Errorf("bmff: waiting for box header at %d: %w", offset, errdefs.ErrIOFailure)
		}
	}

	hdr, err := stream.ReadRange(r.src, offset, offset+headerSize)
	if err != nil {
		return nil, wrapStreamErr(err)
	}
	b := &Box{Start: offset, Size: uint64(binary.BigEndian.Uint32(hdr[:4]))}
	copy(b.Type[:], hdr[4:8])

	hlen := int64(headerSize)
	switch b.Size {
	case sizeUsesLargeField:
		large, err := stream.ReadRange(r.src, offset+hlen, offset+hlen+largeSizeAddition)
		if err != nil {
			return nil, wrapStreamErr(err)
		}
		b.Size = binary.BigEndian.Uint64(large)
		b.Large = true
		hlen += largeSizeAddition
	case sizeToEOF:
		// Extends to the end of the file; only the final top-level
		// box may do this.
	}
	if b.Type == TypeUUID {
		ext, err := stream.ReadRange(r.src, offset+hlen, offset+hlen+uuidTypeAddition)
		if err != nil {
			return nil, wrapStreamErr(err)
		}
		copy(b.UUID[:], ext)
		hlen += uuidTypeAddition
	}

	b.DataStart = offset + hlen
	switch {
	case b.Size == sizeToEOF:
		if rangeEnd >= 0 {
			b.DataEnd = rangeEnd
			b.Size = uint64(rangeEnd - offset)
		} else {
			b.DataEnd = -1
		}
	default:
		if b.Size < uint64(hlen) {
			return nil, errdefs.Malformed("bmff: box %q declares size %d smaller than its %d-byte header", b.Type, b.Size, hlen)
		}
		end := offset + int64(b.Size)
		if end < offset {
			return nil, errdefs.Malformed("bmff: box %q size %d overflows", b.Type, b.Size)
		}
		if rangeEnd >= 0 && end > rangeEnd {
			return nil, errdefs.Malformed("bmff: box %q of size %d exceeds enclosing range end %d", b.Type, b.Size, rangeEnd)
		}
		b.DataEnd = end
	}
	return b, nil
}

// Children visits the direct children of b in file order, stopping on the
// first error. fn may return ErrStop to end the walk early. The child count
// is checked against the children-per-box limit as the walk proceeds.
func (r *Reader) Children(b *Box, fn func(*Box) error) error {
	if b.DataEnd < 0 {
		return errdefs.Malformed("bmff: cannot iterate children of unbounded box %q", b.Type)
	}
	var count uint64
	offset := b.DataStart
	for {
		child, err := r.ReadBoxAt(offset, b.DataEnd)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		count++
		if err := r.limits.CheckChildrenPerBox(count); err != nil {
			return err
		}
		if err := fn(child); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
		if child.DataEnd < 0 {
			return nil
		}
		offset = child.DataEnd
	}
}

// TopLevel visits the top-level boxes of the file, in order. fileEnd bounds
// the walk; pass -1 for a source of unknown length, in which case the walk
// ends when the source stops growing.
func (r *Reader) TopLevel(fileEnd int64, fn func(*Box) error) error {
	var count uint64
	offset := int64(0)
	for {
		b, err := r.ReadBoxAt(offset, fileEnd)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		count++
		if err := r.limits.CheckChildrenPerBox(count); err != nil {
			return err
		}
		if err := fn(b); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
		if b.DataEnd < 0 {
			return nil
		}
		offset = b.DataEnd
	}
}

// Payload reads the full payload of b into memory. The allocation is gated
// on the memory-block limit before it happens.
func (r *Reader) Payload(b *Box) ([]byte, error) {
	size := b.PayloadSize()
	if size < 0 {
		return nil, errdefs.Malformed("bmff: cannot slurp unbounded box %q", b.Type)
	}
	if err := r.limits.CheckMemoryBlock(uint64(size)); err != nil {
		return nil, err
	}
	data, err := stream.ReadRange(r.src, b.DataStart, b.DataEnd)
	if err != nil {
		return nil, wrapStreamErr(err)
	}
	return data, nil
}

// wrapStreamErr classifies stream failures into the module's error taxonomy.
func wrapStreamErr(err error) error {
	if errors.Is(err, errdefs.ErrIOFailure) || errors.Is(err, errdefs.ErrMalformedInput) {
		return err
	}
	return fmt.Errorf("%w: %w", errdefs.ErrIOFailure, err)
}
