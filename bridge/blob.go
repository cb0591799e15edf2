package bridge

import (
	"unsafe"

	"github.com/wippyai/dxbc-bridge/errors"
)

// The compiler returns results as reference-counted blob objects behind
// a virtual call table. Slot layout, by offset:
//
//	0  QueryInterface
//	1  AddRef
//	2  Release
//	3  GetBufferPointer
//	4  GetBufferSize
const (
	slotRelease          = 2
	slotGetBufferPointer = 3
	slotGetBufferSize    = 4
)

// Blob is the host-owned copy of a foreign blob's bytes. Once unwrapped
// it has no remaining tie to the foreign object.
type Blob struct {
	data []byte
}

// Bytes returns the blob contents.
func (b *Blob) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the blob size in bytes.
func (b *Blob) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// String renders the blob as text, trimming a trailing NUL. Diagnostics
// blobs are NUL-terminated message text.
func (b *Blob) String() string {
	d := b.Bytes()
	for len(d) > 0 && d[len(d)-1] == 0 {
		d = d[:len(d)-1]
	}
	return string(d)
}

// comCall dispatches one virtual method: fn is the slot's function
// address, args begin with the object pointer.
type comCall func(fn uintptr, args ...uint64) (uint64, error)

// UnwrapBlob copies a foreign blob into host memory and releases the
// foreign object. The object arrives with one reference owned by the
// caller; exactly one release happens on every path, success or not.
func (b *Bridge) UnwrapBlob(obj uintptr) (*Blob, error) {
	return unwrapBlob(b.Invoke, obj)
}

func unwrapBlob(call comCall, obj uintptr) (blob *Blob, err error) {
	if obj == 0 {
		return nil, nil
	}

	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	slot := func(i int) uintptr {
		return *(*uintptr)(unsafe.Pointer(vtbl + uintptr(i)*8))
	}

	defer func() {
		if _, relErr := call(slot(slotRelease), uint64(obj)); relErr != nil && err == nil {
			blob, err = nil, relErr
		}
	}()

	ptr, err := call(slot(slotGetBufferPointer), uint64(obj))
	if err != nil {
		return nil, err
	}
	size, err := call(slot(slotGetBufferSize), uint64(obj))
	if err != nil {
		return nil, err
	}

	if ptr == 0 && size != 0 {
		return nil, errors.New(errors.PhaseInvoke, errors.KindForeignCall).
			Detail("blob of %d bytes with a null data pointer", size).Build()
	}

	data := make([]byte, size)
	if size > 0 {
		copy(data, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), size))
	}
	return &Blob{data: data}, nil
}
