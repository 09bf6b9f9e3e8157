//go:build !linux
// +build !linux

package scatter

// DefaultCapacity returns a fixed memory budget and the CPU count.
func DefaultCapacity() Resources {
	return fallbackCapacity()
}
