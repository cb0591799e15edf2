package winabi

import (
	"unicode/utf16"
	"unsafe"
)

// Raw memory access helpers. Entry points receive foreign pointers as
// integer arguments; these helpers turn them back into Go views. All of
// them trust the foreign caller the same way the real runtime does.

func mem(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func getU8(addr uintptr) byte      { return *(*byte)(unsafe.Pointer(addr)) }
func getU16(addr uintptr) uint16   { return *(*uint16)(unsafe.Pointer(addr)) }
func getU32(addr uintptr) uint32   { return *(*uint32)(unsafe.Pointer(addr)) }
func getU64(addr uintptr) uint64   { return *(*uint64)(unsafe.Pointer(addr)) }
func putU16(addr uintptr, v uint16) { *(*uint16)(unsafe.Pointer(addr)) = v }
func putU32(addr uintptr, v uint32) { *(*uint32)(unsafe.Pointer(addr)) = v }
func putU64(addr uintptr, v uint64) { *(*uint64)(unsafe.Pointer(addr)) = v }

func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// cstrLen measures a NUL-terminated byte string.
func cstrLen(addr uintptr) int {
	n := 0
	for getU8(addr+uintptr(n)) != 0 {
		n++
	}
	return n
}

// cstr copies a NUL-terminated byte string into a Go string.
func cstr(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	return string(mem(addr, cstrLen(addr)))
}

// wstrLen measures a NUL-terminated UTF-16 string in code units.
func wstrLen(addr uintptr) int {
	n := 0
	for getU16(addr+uintptr(n)*2) != 0 {
		n++
	}
	return n
}

// wstr copies a NUL-terminated UTF-16 string into a Go string.
func wstr(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	n := wstrLen(addr)
	units := make([]uint16, n)
	for i := range units {
		units[i] = getU16(addr + uintptr(i)*2)
	}
	return string(utf16.Decode(units))
}

// ReadCString copies a NUL-terminated byte string at a foreign address.
func (s *State) ReadCString(addr uintptr) string { return cstr(addr) }

// WriteU32 stores a 32-bit value at a foreign address.
func (s *State) WriteU32(addr uintptr, v uint32) { putU32(addr, v) }

// WriteU64 stores a 64-bit value at a foreign address.
func (s *State) WriteU64(addr uintptr, v uint64) { putU64(addr, v) }

// WriteBytes copies data to a foreign address.
func (s *State) WriteBytes(addr uintptr, data []byte) {
	copy(mem(addr, len(data)), data)
}

// copyMem implements overlapping-safe byte copies between raw pointers.
func copyMem(dst, src uintptr, n int) {
	if n > 0 && dst != 0 && src != 0 {
		copy(mem(dst, n), mem(src, n))
	}
}
