package stream

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Every reader in the package carries the absolute-offset read path that
// makes concurrent ReadRange calls safe.
var (
	_ io.ReaderAt = (*MemoryReader)(nil)
	_ io.ReaderAt = (*FileReader)(nil)
	_ io.ReaderAt = (*GrowingReader)(nil)
)

func TestMemoryReader(t *testing.T) {
	m := NewMemoryReader([]byte("hello world"))
	if m.Size() != 11 {
		t.Errorf("Size = %d, want 11", m.Size())
	}
	if st := m.WaitForFileSize(11); st != SizeReached {
		t.Errorf("WaitForFileSize(11) = %v, want size reached", st)
	}
	if st := m.WaitForFileSize(12); st != SizeBeyondEOF {
		t.Errorf("WaitForFileSize(12) = %v, want beyond EOF", st)
	}

	data, err := ReadRange(m, 6, 11)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(data) != "world" {
		t.Errorf("ReadRange = %q, want world", data)
	}
	if pos := m.Position(); pos != 0 {
		t.Errorf("position moved to %d by a range read, want 0", pos)
	}
}

// TestReadRangeConcurrent reads many disjoint ranges from one shared reader
// at once, with a goroutine churning the shared cursor the whole time. Each
// range must come back with its own bytes regardless.
func TestReadRangeConcurrent(t *testing.T) {
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i)
	}
	g := NewGrowingReader()
	g.Append(data)
	g.Finish()

	stop := make(chan struct{})
	var churn sync.WaitGroup
	churn.Add(1)
	go func() {
		defer churn.Done()
		buf := make([]byte, 7)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			g.Seek(int64(i % len(data)))
			g.Read(buf)
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				start := int64((w*200 + i) * 13 % (len(data) - 32))
				got, err := ReadRange(g, start, start+32)
				if err != nil {
					t.Errorf("worker %d: ReadRange: %v", w, err)
					return
				}
				if !bytes.Equal(got, data[start:start+32]) {
					t.Errorf("worker %d: range at %d read someone else's bytes", w, start)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	churn.Wait()
}

func TestReadRangeBeyondEOF(t *testing.T) {
	m := NewMemoryReader([]byte("abc"))
	_, err := ReadRange(m, 0, 4)
	if !errors.Is(err, ErrReadBeyondEOF) {
		t.Errorf("ReadRange past end: %v, want ErrReadBeyondEOF", err)
	}
	if _, err := ReadRange(m, 2, 1); err == nil {
		t.Error("inverted range succeeded")
	}
}

func TestFileReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, err := ReadRange(f, 3, 7)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(data) != "3456" {
		t.Errorf("ReadRange = %q, want 3456", data)
	}
	// ReadAt-based reads do not disturb each other's ranges.
	data2, err := ReadRange(f, 0, 2)
	if err != nil || string(data2) != "01" {
		t.Errorf("second ReadRange = %q (%v), want 01", data2, err)
	}
}

func TestGrowingReaderBlocksUntilAppend(t *testing.T) {
	g := NewGrowingReader()
	g.Append([]byte("head"))

	got := make(chan GrowStatus, 1)
	go func() { got <- g.WaitForFileSize(8) }()

	select {
	case st := <-got:
		t.Fatalf("wait returned %v before data arrived", st)
	case <-time.After(20 * time.Millisecond):
	}

	g.Append([]byte("tail"))
	if st := <-got; st != SizeReached {
		t.Errorf("after append: %v, want size reached", st)
	}

	data, err := ReadRange(g, 0, 8)
	if err != nil || !bytes.Equal(data, []byte("headtail")) {
		t.Errorf("ReadRange = %q (%v), want headtail", data, err)
	}
}

func TestGrowingReaderFinish(t *testing.T) {
	g := NewGrowingReader()
	g.Append([]byte("abc"))

	got := make(chan GrowStatus, 1)
	go func() { got <- g.WaitForFileSize(10) }()
	g.Finish()
	if st := <-got; st != SizeBeyondEOF {
		t.Errorf("after finish: %v, want beyond EOF", st)
	}

	if _, err := ReadRange(g, 0, 10); !errors.Is(err, ErrReadBeyondEOF) {
		t.Errorf("ReadRange past final size: %v, want ErrReadBeyondEOF", err)
	}
	if data, err := ReadRange(g, 0, 3); err != nil || string(data) != "abc" {
		t.Errorf("ReadRange within final size = %q (%v)", data, err)
	}
}

func TestGrowingReaderFail(t *testing.T) {
	g := NewGrowingReader()
	boom := errors.New("boom")

	got := make(chan GrowStatus, 1)
	go func() { got <- g.WaitForFileSize(1) }()
	g.Fail(boom)
	if st := <-got; st != GrowError {
		t.Errorf("after fail: %v, want error", st)
	}

	res := g.RequestRange(0, 1)
	if res.Status != GrowError || !errors.Is(res.Err, boom) {
		t.Errorf("RequestRange = %+v, want error carrying boom", res)
	}
}

func TestGrowingReaderRequestRange(t *testing.T) {
	g := NewGrowingReader()
	g.Append([]byte("0123456789"))
	res := g.RequestRange(2, 6)
	if res.Status != SizeReached || res.RangeEnd != 6 {
		t.Errorf("RequestRange = %+v, want size reached to 6", res)
	}
	g.Finish()
	res = g.RequestRange(5, 20)
	if res.Status != SizeBeyondEOF || res.RangeEnd != 10 {
		t.Errorf("RequestRange past end = %+v, want beyond EOF at 10", res)
	}
}
