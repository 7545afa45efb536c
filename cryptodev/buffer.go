package cryptodev

import "unsafe"

// AlignedBuffer returns a zeroed slice of size bytes, which start address
// satisfies alignmask.
func AlignedBuffer(size int, alignmask uint16) []byte {
	if alignmask == 0 || size == 0 {
		return make([]byte, size)
	}
	mask := uintptr(alignmask)
	buf := make([]byte, size+int(alignmask))
	off := int((mask + 1 - address(buf)&mask) & mask)
	return buf[off : off+size : off+size]
}

// IsAligned returns true if b starts at an address that satisfies alignmask.
// Empty buffers are always aligned.
func IsAligned(b []byte, alignmask uint16) bool {
	if alignmask == 0 || len(b) == 0 {
		return true
	}
	return address(b)&uintptr(alignmask) == 0
}

func address(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
