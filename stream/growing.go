package stream

import (
	"fmt"
	"io"
	"sync"
)

// GrowingReader models a source that receives its bytes over time, such as a
// file that is still downloading. A producer appends data with Append and
// declares the final size with Finish; consumers block in WaitForFileSize
// until enough data arrived or the final size rules the request out.
//
// All methods are safe for concurrent use, except that Read and Seek share
// the reader's position like every Reader implementation.
type GrowingReader struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     []byte
	pos      int64
	finished bool
	failed   error
}

// NewGrowingReader returns an empty growing source.
func NewGrowingReader() *GrowingReader {
	g := &GrowingReader{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Append adds bytes to the end of the source and wakes blocked waiters.
func (g *GrowingReader) Append(p []byte) {
	g.mu.Lock()
	g.data = append(g.data, p...)
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Finish declares that no more bytes will arrive.
func (g *GrowingReader) Finish() {
	g.mu.Lock()
	g.finished = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Fail makes all pending and future waits return GrowError.
func (g *GrowingReader) Fail(err error) {
	g.mu.Lock()
	g.failed = err
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Position implements Reader.
func (g *GrowingReader) Position() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos
}

// Read implements Reader. It returns the bytes currently available at the
// position; callers gate availability through WaitForFileSize first.
func (g *GrowingReader) Read(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pos >= int64(len(g.data)) {
		return 0, io.EOF
	}
	n := copy(p, g.data[g.pos:])
	g.pos += int64(n)
	return n, nil
}

// Seek implements Reader.
func (g *GrowingReader) Seek(position int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if position < 0 {
		return fmt.Errorf("stream: seek to negative position %d", position)
	}
	g.pos = position
	return nil
}

// ReadAt implements io.ReaderAt over the bytes that have arrived so far,
// leaving the shared position alone. Callers establish availability through
// WaitForFileSize or RequestRange first.
func (g *GrowingReader) ReadAt(p []byte, off int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("stream: read at negative offset %d", off)
	}
	if off >= int64(len(g.data)) {
		return 0, io.EOF
	}
	n := copy(p, g.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WaitForFileSize implements Reader, suspending only the calling goroutine.
func (g *GrowingReader) WaitForFileSize(targetSize int64) GrowStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if g.failed != nil {
			return GrowError
		}
		if int64(len(g.data)) >= targetSize {
			return SizeReached
		}
		if g.finished {
			return SizeBeyondEOF
		}
		g.cond.Wait()
	}
}

// RequestRange implements RangeRequester.
func (g *GrowingReader) RequestRange(start, end int64) RangeResult {
	status := g.WaitForFileSize(end)
	g.mu.Lock()
	defer g.mu.Unlock()
	res := RangeResult{Status: status, RangeEnd: int64(len(g.data)), Err: g.failed}
	if status == SizeReached {
		res.RangeEnd = end
	}
	return res
}
