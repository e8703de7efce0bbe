package mem

import (
	"unsafe"
)

// Alignment is the start address alignment of every buffer, in bytes.
const Alignment = 64

// AllocAligned returns a zeroed byte slice of length size whose first
// element is Alignment-aligned. It returns nil for size <= 0.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size+Alignment)
	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // alignment needs the address
	offset := (Alignment - addr%Alignment) % Alignment
	return buf[offset : offset+uintptr(size)]
}

// AllocFloat32 returns a zeroed, aligned float32 slice of length n.
func AllocFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	b := AllocAligned(4 * n)
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n) //nolint:gosec // b is 4-byte aligned
}
