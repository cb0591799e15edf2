package bridge

import (
	"unsafe"
)

// Frame is a per-invocation marshalling area carved out of the emulated
// heap. Every Compile call builds its own frame, so re-entrant foreign
// callbacks can never observe another call's buffers.
type Frame struct {
	b      *Bridge
	blocks []uintptr
}

// NewFrame starts a marshalling frame.
func (b *Bridge) NewFrame() *Frame {
	return &Frame{b: b}
}

func (f *Frame) alloc(size int) uintptr {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if f.b.closed {
		return 0
	}
	addr := f.b.state.Alloc(size, true)
	if addr != 0 {
		f.blocks = append(f.blocks, addr)
	}
	return addr
}

// Bytes copies data into foreign-visible memory.
func (f *Frame) Bytes(data []byte) uintptr {
	addr := f.alloc(len(data) + 1)
	if addr != 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data)), data)
	}
	return addr
}

// CString copies a NUL-terminated string into foreign-visible memory.
func (f *Frame) CString(s string) uintptr {
	return f.Bytes([]byte(s))
}

// Pointers copies a pointer array into foreign-visible memory.
func (f *Frame) Pointers(vals []uintptr) uintptr {
	addr := f.alloc(8 * len(vals))
	if addr != 0 {
		for i, v := range vals {
			*(*uintptr)(unsafe.Pointer(addr + uintptr(i)*8)) = v
		}
	}
	return addr
}

// OutPtr allocates a zeroed pointer-sized slot for an output parameter.
func (f *Frame) OutPtr() uintptr {
	return f.alloc(8)
}

// Deref reads the pointer stored in an output slot.
func (f *Frame) Deref(slot uintptr) uintptr {
	if slot == 0 {
		return 0
	}
	return *(*uintptr)(unsafe.Pointer(slot))
}

// Release returns the frame's blocks to the heap.
func (f *Frame) Release() {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if f.b.closed {
		return
	}
	for _, addr := range f.blocks {
		f.b.state.Free(addr)
	}
	f.blocks = nil
}
