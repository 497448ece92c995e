// Package security defines the resource ceilings enforced while parsing
// untrusted container input.
//
// Every point in the box tokenizer and the item graph that is about to
// allocate memory proportional to a size field taken from the file, iterate a
// count taken from the file, or recurse, first consults a Limits value and
// fails with errdefs.ErrLimitExceeded instead of proceeding.
//
// A field value of zero disables that specific limit. The defaults returned
// by Global are always finite; Disabled returns the fully switched-off
// sentinel for callers that have a reason to trust their input.
package security

import (
	"github.com/ooopus/libheif/errdefs"
)

// Limits is a versioned record of security ceilings. The Version field
// allows the struct to grow additively; fields past the caller's known
// version keep their zero (disabled) value and parsing stays safe because a
// session always starts from the Global defaults.
type Limits struct {
	Version uint8

	// Version 1 fields.

	// MaxImageSizePixels bounds the total pixel count (width*height) of
	// any single decoded image plane set. For example, 32768^2 pixels
	// need about 1.5 GB for YUV 4:2:0 or 4 GB for RGB32.
	MaxImageSizePixels uint64

	// MaxNumberOfTiles bounds rows*columns of a grid image.
	MaxNumberOfTiles uint64

	// MaxBayerPatternPixels bounds the pixel count of Bayer-pattern
	// components.
	MaxBayerPatternPixels uint32

	// MaxItems bounds the number of item-info entries in a file.
	MaxItems uint32

	// MaxColorProfileSize bounds the byte size of an embedded color
	// profile.
	MaxColorProfileSize uint32

	// MaxMemoryBlockSize bounds any single allocation whose size is taken
	// from the file.
	MaxMemoryBlockSize uint64

	// MaxComponents bounds per-item component counts (pixi channels,
	// property associations and similar tables).
	MaxComponents uint32

	// MaxIlocExtentsPerItem bounds the number of byte-range extents a
	// single item-location entry may declare.
	MaxIlocExtentsPerItem uint32

	// MaxSizeEntityGroup bounds the member count of one entity group.
	MaxSizeEntityGroup uint32

	// MaxChildrenPerBox bounds the child count of any container box that
	// is not covered by a more specific limit.
	MaxChildrenPerBox uint32

	// Version 2 fields.

	// MinMemoryMargin and MaxMemoryMargin bound the amount of system
	// memory that must stay free after a large allocation. The margin is
	// computed from the requested size and clamped into [min, max].
	// MaxMemoryMargin zero switches the available-RAM check off.
	MinMemoryMargin uint64
	MaxMemoryMargin uint64

	// MaxSampleDescriptionBoxEntries and MaxSampleGroupDescriptionBoxEntries
	// bound sample table entry counts in sequence tracks.
	MaxSampleDescriptionBoxEntries      uint32
	MaxSampleGroupDescriptionBoxEntries uint32
}

// CurrentVersion is the highest limits version known to this build.
const CurrentVersion = 2

// Global returns the default finite limits. The returned value is a copy;
// sessions may tighten or loosen it before parsing begins.
func Global() Limits {
	return Limits{
		Version:               CurrentVersion,
		MaxImageSizePixels:    32768 * 32768,
		MaxNumberOfTiles:      4096,
		MaxBayerPatternPixels: 16 * 1024 * 1024,
		MaxItems:              20000,
		MaxColorProfileSize:   100 * 1024 * 1024,
		MaxMemoryBlockSize:    4 * 1024 * 1024 * 1024, // 4 GB
		MaxComponents:         256,
		MaxIlocExtentsPerItem: 32,
		MaxSizeEntityGroup:    64,
		MaxChildrenPerBox:     100,

		MinMemoryMargin: 512 * 1024 * 1024,
		MaxMemoryMargin: 1024 * 1024 * 1024,

		MaxSampleDescriptionBoxEntries:      1024,
		MaxSampleGroupDescriptionBoxEntries: 1024,
	}
}

// Disabled returns limits with every check switched off.
func Disabled() Limits {
	return Limits{Version: CurrentVersion}
}

// exceeded builds the error for a tripped limit.
func exceeded(name string, max, requested uint64) error {
	return &errdefs.LimitError{Limit: name, Max: max, Requested: requested}
}

// CheckImageSize verifies a width*height pixel count against
// MaxImageSizePixels.
func (l *Limits) CheckImageSize(width, height uint64) error {
	if l.MaxImageSizePixels == 0 {
		return nil
	}
	if height != 0 && width > l.MaxImageSizePixels/height {
		return exceeded("MaxImageSizePixels", l.MaxImageSizePixels, width*height)
	}
	return nil
}

// CheckNumberOfTiles verifies a grid's tile count.
func (l *Limits) CheckNumberOfTiles(count uint64) error {
	if l.MaxNumberOfTiles != 0 && count > l.MaxNumberOfTiles {
		return exceeded("MaxNumberOfTiles", l.MaxNumberOfTiles, count)
	}
	return nil
}

// CheckItems verifies the declared number of item-info entries.
func (l *Limits) CheckItems(count uint64) error {
	if l.MaxItems != 0 && count > uint64(l.MaxItems) {
		return exceeded("MaxItems", uint64(l.MaxItems), count)
	}
	return nil
}

// CheckColorProfileSize verifies the byte size of a color profile payload.
func (l *Limits) CheckColorProfileSize(size uint64) error {
	if l.MaxColorProfileSize != 0 && size > uint64(l.MaxColorProfileSize) {
		return exceeded("MaxColorProfileSize", uint64(l.MaxColorProfileSize), size)
	}
	return nil
}

// CheckComponents verifies per-item component or association counts.
func (l *Limits) CheckComponents(count uint64) error {
	if l.MaxComponents != 0 && count > uint64(l.MaxComponents) {
		return exceeded("MaxComponents", uint64(l.MaxComponents), count)
	}
	return nil
}

// CheckIlocExtents verifies the extent count of one item-location entry.
func (l *Limits) CheckIlocExtents(count uint64) error {
	if l.MaxIlocExtentsPerItem != 0 && count > uint64(l.MaxIlocExtentsPerItem) {
		return exceeded("MaxIlocExtentsPerItem", uint64(l.MaxIlocExtentsPerItem), count)
	}
	return nil
}

// CheckEntityGroupSize verifies the member count of one entity group.
func (l *Limits) CheckEntityGroupSize(count uint64) error {
	if l.MaxSizeEntityGroup != 0 && count > uint64(l.MaxSizeEntityGroup) {
		return exceeded("MaxSizeEntityGroup", uint64(l.MaxSizeEntityGroup), count)
	}
	return nil
}

// CheckChildrenPerBox verifies a container box's running child count.
func (l *Limits) CheckChildrenPerBox(count uint64) error {
	if l.MaxChildrenPerBox != 0 && count > uint64(l.MaxChildrenPerBox) {
		return exceeded("MaxChildrenPerBox", uint64(l.MaxChildrenPerBox), count)
	}
	return nil
}

// CheckMemoryBlock verifies a single allocation of size bytes, first against
// the hard MaxMemoryBlockSize ceiling and then against the configured
// free-memory margin.
func (l *Limits) CheckMemoryBlock(size uint64) error {
	if l.MaxMemoryBlockSize != 0 && size > l.MaxMemoryBlockSize {
		return exceeded("MaxMemoryBlockSize", l.MaxMemoryBlockSize, size)
	}
	return l.checkMemoryMargin(size)
}

// checkMemoryMargin refuses an allocation that would leave less than the
// configured margin of system memory free. The margin grows with the
// requested size (one quarter of it) and is clamped into
// [MinMemoryMargin, MaxMemoryMargin]. When the platform cannot report
// available memory, the check passes.
func (l *Limits) checkMemoryMargin(size uint64) error {
	if l.MaxMemoryMargin == 0 {
		return nil
	}
	avail, ok := availableMemory()
	if !ok {
		return nil
	}
	margin := size / 4
	if margin < l.MinMemoryMargin {
		margin = l.MinMemoryMargin
	}
	if margin > l.MaxMemoryMargin {
		margin = l.MaxMemoryMargin
	}
	if size+margin > avail {
		return exceeded("MaxMemoryMargin", avail, size)
	}
	return nil
}
