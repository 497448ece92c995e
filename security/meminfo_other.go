//go:build !linux

package security

// availableMemory is not implemented on this platform; the memory-margin
// check is skipped.
func availableMemory() (uint64, bool) {
	return 0, false
}
