// Package stream abstracts the byte source a container file is parsed from.
//
// Three tiers of backing store are supported: a fixed in-memory buffer
// (MemoryReader), a local random-access file (FileReader), and a growing or
// remote source where bytes beyond a known prefix may not yet exist
// (GrowingReader, or any caller-supplied Reader implementation).
//
// Parsing code never assumes a read succeeds. Every box-size and extent read
// is first checked against the source's currently known length via
// WaitForFileSize or RequestRange, so a partially downloaded file fails with
// a clean status instead of a short read.
package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// GrowStatus is the tri-state result of a grow-wait or range request.
type GrowStatus int

const (
	// SizeReached means the requested size or range is available.
	SizeReached GrowStatus = iota
	// SizeBeyondEOF means the file has reached its final size and the
	// requested position will never exist.
	SizeBeyondEOF
	// GrowError means the source reported an error.
	GrowError
)

func (s GrowStatus) String() string {
	switch s {
	case SizeReached:
		return "size reached"
	case SizeBeyondEOF:
		return "size beyond EOF"
	default:
		return "error"
	}
}

// RangeResult is the outcome of a RequestRange call. RangeEnd indicates up
// to what position the source has data; when the status is SizeBeyondEOF it
// is the actual end of the file. A source that read more than requested may
// report the larger end and callers may use the additional data.
type RangeResult struct {
	Status   GrowStatus
	RangeEnd int64
	Err      error
}

// Reader is the byte-source contract consumed by the box tokenizer and the
// composition engine.
//
// Read and Seek share an implicit position; a single Reader instance shared
// across goroutines therefore requires external synchronization. Readers
// that additionally implement io.ReaderAt give ReadRange an absolute-offset
// path that never touches the shared position, making concurrent range
// reads safe; every reader in this package does. Tile workers fall back to
// a single worker for a source without that capability.
type Reader interface {
	// Position returns the current read position.
	Position() int64

	// Read fills p from the current position, advancing it. It reports
	// an error on a short read; callers bound reads beforehand with
	// WaitForFileSize.
	Read(p []byte) (int, error)

	// Seek sets the absolute read position.
	Seek(position int64) error

	// WaitForFileSize blocks until the source holds at least targetSize
	// bytes, the source reaches its final size below the target, or an
	// error occurs.
	WaitForFileSize(targetSize int64) GrowStatus
}

// RangeRequester is an optional capability of a Reader for sources that
// fetch data on demand, such as a file served over HTTP. Requesting a range
// before issuing many small reads lets the source fetch one large block.
type RangeRequester interface {
	// RequestRange blocks until the half-open range [start, end) is
	// available or determined to be unavailable.
	RequestRange(start, end int64) RangeResult
}

// RangeHinter is an optional capability of a Reader. Both methods are
// advisory and must not block; a source without a cache ignores them.
type RangeHinter interface {
	// PreloadRangeHint signals that the range may be needed soon.
	PreloadRangeHint(start, end int64)

	// ReleaseFileRange signals that the range is no longer needed and
	// any cached copy of it may be dropped.
	ReleaseFileRange(start, end int64)
}

// ErrReadBeyondEOF is wrapped into errors returned by ReadRange when the
// requested range lies beyond the source's final size.
var ErrReadBeyondEOF = errors.New("stream: read beyond end of file")

// ReadRange reads the half-open byte range [start, end) from r, waiting for
// the range to become available first. It is the one read path used for
// attacker-controlled extents: availability is established before any
// allocation sized by the range happens.
func ReadRange(r Reader, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("stream: invalid range [%d, %d)", start, end)
	}
	if err := waitForRange(r, start, end); err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	if err := readAbsolute(r, buf, start); err != nil {
		return nil, fmt.Errorf("stream: reading range [%d, %d): %w", start, end, err)
	}
	return buf, nil
}

// ReadRangeInto reads the half-open byte range [start, end) into buf, which
// must hold at least end-start bytes. It lets callers that stream many
// ranges reuse one buffer instead of allocating per range.
func ReadRangeInto(r Reader, buf []byte, start, end int64) error {
	if start < 0 || end < start {
		return fmt.Errorf("stream: invalid range [%d, %d)", start, end)
	}
	if int64(len(buf)) < end-start {
		return fmt.Errorf("stream: %d-byte buffer cannot hold range [%d, %d)", len(buf), start, end)
	}
	if err := waitForRange(r, start, end); err != nil {
		return err
	}
	if err := readAbsolute(r, buf[:end-start], start); err != nil {
		return fmt.Errorf("stream: reading range [%d, %d): %w", start, end, err)
	}
	return nil
}

// readAbsolute fills buf from the absolute offset start. A source with an
// io.ReaderAt is read without touching its shared cursor, so concurrent
// range reads cannot interleave. The Seek+Read fallback moves the cursor
// and is only correct for a reader that is not shared across goroutines.
func readAbsolute(r Reader, buf []byte, start int64) error {
	if ra, ok := r.(io.ReaderAt); ok {
		n, err := ra.ReadAt(buf, start)
		if n == len(buf) {
			return nil
		}
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	if err := r.Seek(start); err != nil {
		return err
	}
	_, err := io.ReadFull(r, buf)
	return err
}

func waitForRange(r Reader, start, end int64) error {
	if rr, ok := r.(RangeRequester); ok {
		res := rr.RequestRange(start, end)
		switch res.Status {
		case SizeReached:
			return nil
		case SizeBeyondEOF:
			return fmt.Errorf("stream: range [%d, %d) ends at %d: %w", start, end, res.RangeEnd, ErrReadBeyondEOF)
		default:
			if res.Err != nil {
				return fmt.Errorf("stream: range request: %w", res.Err)
			}
			return errors.New("stream: range request failed")
		}
	}
	switch r.WaitForFileSize(end) {
	case SizeReached:
		return nil
	case SizeBeyondEOF:
		return fmt.Errorf("stream: range [%d, %d): %w", start, end, ErrReadBeyondEOF)
	default:
		return errors.New("stream: wait for file size failed")
	}
}

// MemoryReader reads from a fixed in-memory buffer. The buffer is not
// copied; the caller keeps it alive for the lifetime of the reader.
// Its size is known from the start, so grow-waits never block.
type MemoryReader struct {
	data []byte
	pos  int64
}

// NewMemoryReader returns a Reader over data without copying it.
func NewMemoryReader(data []byte) *MemoryReader {
	return &MemoryReader{data: data}
}

// Position implements Reader.
func (m *MemoryReader) Position() int64 { return m.pos }

// Read implements Reader.
func (m *MemoryReader) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

// Seek implements Reader.
func (m *MemoryReader) Seek(position int64) error {
	if position < 0 || position > int64(len(m.data)) {
		return fmt.Errorf("stream: seek to %d outside buffer of %d bytes", position, len(m.data))
	}
	m.pos = position
	return nil
}

// ReadAt implements io.ReaderAt. It leaves the reader's position alone, so
// concurrent range reads do not interfere.
func (m *MemoryReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("stream: read at negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WaitForFileSize implements Reader. A memory buffer never grows.
func (m *MemoryReader) WaitForFileSize(targetSize int64) GrowStatus {
	if targetSize <= int64(len(m.data)) {
		return SizeReached
	}
	return SizeBeyondEOF
}

// Size returns the buffer length.
func (m *MemoryReader) Size() int64 { return int64(len(m.data)) }

// FileReader reads from a local random-access file. Reads go through
// ReadAt with an explicit cursor, so the operating-system file position is
// never shared state.
type FileReader struct {
	f    *os.File
	size int64
	pos  int64
}

// Open opens the named file for reading.
func Open(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileReader{f: f, size: st.Size()}, nil
}

// NewFileReader wraps an already opened file of the given size.
func NewFileReader(f *os.File, size int64) *FileReader {
	return &FileReader{f: f, size: size}
}

// Position implements Reader.
func (r *FileReader) Position() int64 { return r.pos }

// Read implements Reader.
func (r *FileReader) Read(p []byte) (int, error) {
	n, err := r.f.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements Reader.
func (r *FileReader) Seek(position int64) error {
	if position < 0 {
		return fmt.Errorf("stream: seek to negative position %d", position)
	}
	r.pos = position
	return nil
}

// ReadAt implements io.ReaderAt, delegating to the file's own positional
// read. The reader's position is untouched.
func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}

// WaitForFileSize implements Reader. A local file has a fixed size.
func (r *FileReader) WaitForFileSize(targetSize int64) GrowStatus {
	if targetSize <= r.size {
		return SizeReached
	}
	return SizeBeyondEOF
}

// Size returns the file size recorded at open time.
func (r *FileReader) Size() int64 { return r.size }

// Close closes the underlying file.
func (r *FileReader) Close() error { return r.f.Close() }
