package security

import (
	"errors"
	"testing"

	"github.com/ooopus/libheif/errdefs"
)

func TestGlobalDefaultsAreFinite(t *testing.T) {
	l := Global()
	if l.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", l.Version, CurrentVersion)
	}
	if l.MaxItems == 0 || l.MaxImageSizePixels == 0 || l.MaxChildrenPerBox == 0 {
		t.Error("global defaults must not disable core limits")
	}
}

func TestZeroDisablesLimit(t *testing.T) {
	l := Disabled()
	if err := l.CheckItems(1 << 40); err != nil {
		t.Errorf("CheckItems with disabled limits: %v", err)
	}
	if err := l.CheckImageSize(1<<32, 1<<32); err != nil {
		t.Errorf("CheckImageSize with disabled limits: %v", err)
	}
	if err := l.CheckMemoryBlock(1 << 62); err != nil {
		t.Errorf("CheckMemoryBlock with disabled limits: %v", err)
	}
}

func TestChecksTripAtBoundary(t *testing.T) {
	l := Limits{
		MaxItems:              10,
		MaxNumberOfTiles:      4,
		MaxComponents:         3,
		MaxIlocExtentsPerItem: 2,
		MaxSizeEntityGroup:    5,
		MaxChildrenPerBox:     6,
		MaxColorProfileSize:   100,
	}
	tests := []struct {
		name  string
		ok    error
		trip  error
		limit string
	}{
		{"items", l.CheckItems(10), l.CheckItems(11), "MaxItems"},
		{"tiles", l.CheckNumberOfTiles(4), l.CheckNumberOfTiles(5), "MaxNumberOfTiles"},
		{"components", l.CheckComponents(3), l.CheckComponents(4), "MaxComponents"},
		{"extents", l.CheckIlocExtents(2), l.CheckIlocExtents(3), "MaxIlocExtentsPerItem"},
		{"group", l.CheckEntityGroupSize(5), l.CheckEntityGroupSize(6), "MaxSizeEntityGroup"},
		{"children", l.CheckChildrenPerBox(6), l.CheckChildrenPerBox(7), "MaxChildrenPerBox"},
		{"profile", l.CheckColorProfileSize(100), l.CheckColorProfileSize(101), "MaxColorProfileSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ok != nil {
				t.Errorf("at the limit: %v, want nil", tt.ok)
			}
			if !errdefs.IsLimitExceeded(tt.trip) {
				t.Fatalf("past the limit: %v, want limit exceeded", tt.trip)
			}
			var le *errdefs.LimitError
			if !errors.As(tt.trip, &le) || le.Limit != tt.limit {
				t.Errorf("limit error = %+v, want field %s", le, tt.limit)
			}
		})
	}
}

func TestCheckImageSizeOverflow(t *testing.T) {
	l := Limits{MaxImageSizePixels: 32768 * 32768}
	// width*height would overflow uint64 if multiplied naively.
	if err := l.CheckImageSize(1<<40, 1<<40); !errdefs.IsLimitExceeded(err) {
		t.Errorf("huge dimensions: %v, want limit exceeded", err)
	}
	if err := l.CheckImageSize(32768, 32768); err != nil {
		t.Errorf("at the limit: %v, want nil", err)
	}
}

func TestCheckMemoryBlock(t *testing.T) {
	l := Limits{MaxMemoryBlockSize: 1024}
	if err := l.CheckMemoryBlock(1024); err != nil {
		t.Errorf("at the limit: %v", err)
	}
	err := l.CheckMemoryBlock(1025)
	if !errdefs.IsLimitExceeded(err) {
		t.Fatalf("past the limit: %v, want limit exceeded", err)
	}
	var le *errdefs.LimitError
	if !errors.As(err, &le) || le.Limit != "MaxMemoryBlockSize" {
		t.Errorf("limit error = %+v, want MaxMemoryBlockSize", le)
	}
}
