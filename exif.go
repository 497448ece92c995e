package heif

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/ooopus/libheif/errdefs"
	"github.com/ooopus/libheif/internal/meta"
)

// ExifData returns the raw TIFF structure of the image's EXIF metadata.
// The stored item's four-byte header offset is resolved first.
func (h *ImageHandle) ExifData() ([]byte, error) {
	for _, m := range h.Metadata() {
		if m.ItemType != meta.ItemTypeExif {
			continue
		}
		data, err := m.Data()
		if err != nil {
			return nil, err
		}
		if len(data) < 4 {
			return nil, errdefs.Malformed("heif: exif item %d of %d bytes too short for its header offset", m.ItemID, len(data))
		}
		offset := binary.BigEndian.Uint32(data[:4])
		if uint64(4+offset) > uint64(len(data)) {
			return nil, errdefs.Malformed("heif: exif item %d header offset %d beyond %d bytes", m.ItemID, offset, len(data))
		}
		return data[4+offset:], nil
	}
	return nil, fmt.Errorf("heif: image %d has no exif metadata: %w", h.item.ID, errdefs.ErrNotFound)
}

// Exif decodes the image's EXIF metadata.
func (h *ImageHandle) Exif() (*exif.Exif, error) {
	raw, err := h.ExifData()
	if err != nil {
		return nil, err
	}
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errdefs.Malformed("heif: decoding exif: %v", err)
	}
	return x, nil
}
