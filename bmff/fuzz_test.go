package bmff

import (
	"testing"

	"github.com/ooopus/libheif/security"
	"github.com/ooopus/libheif/stream"
)

// FuzzTopLevel checks that arbitrary bytes never panic the tokenizer and
// that every walk terminates under the default limits.
func FuzzTopLevel(f *testing.F) {
	f.Add(box("ftyp", []byte("mif1")))
	f.Add([]byte{0, 0, 0, 0, 'm', 'd', 'a', 't'})
	f.Add([]byte{0, 0, 0, 1, 'm', 'e', 't', 'a', 0, 0, 0, 0, 0, 0, 0, 16})
	f.Add(box("iprp", box("ipco", nil)))

	f.Fuzz(func(t *testing.T, data []byte) {
		limits := security.Global()
		r := NewReader(stream.NewMemoryReader(data), &limits)
		r.TopLevel(int64(len(data)), func(b *Box) error {
			if IsContainer(b.Type) {
				return r.Children(b, func(*Box) error { return nil })
			}
			if b.PayloadSize() >= 0 && b.PayloadSize() < 1<<20 {
				r.Payload(b)
			}
			return nil
		})
	})
}

// FuzzScanBoxes checks the in-memory child scanner the same way.
func FuzzScanBoxes(f *testing.F) {
	f.Add(box("ispe", []byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1}))
	f.Add([]byte{0, 0, 0, 9, 'f', 'r', 'e', 'e', 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		ScanBoxes(data, func(typ FourCC, payload []byte) error { return nil })
	})
}
