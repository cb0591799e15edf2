package bridge

import (
	stderrors "errors"
	"testing"
	"unsafe"

	"github.com/wippyai/dxbc-bridge/errors"
)

// fakeCOM is a refcount test double standing in for a foreign blob
// object: a real vtable layout in memory, dispatched by a Go function
// instead of machine code.
type fakeCOM struct {
	vtbl *[5]uintptr
	data []byte
	refs int

	failGetPointer bool
}

const (
	fakeRelease    = 0x1002
	fakeGetPointer = 0x1003
	fakeGetSize    = 0x1004
)

func newFakeCOM(data []byte) *fakeCOM {
	obj := &fakeCOM{
		vtbl: &[5]uintptr{0x1000, 0x1001, fakeRelease, fakeGetPointer, fakeGetSize},
		data: data,
		refs: 1,
	}
	return obj
}

func (o *fakeCOM) addr() uintptr {
	return uintptr(unsafe.Pointer(o))
}

func (o *fakeCOM) dispatch(t *testing.T) comCall {
	return func(fn uintptr, args ...uint64) (uint64, error) {
		t.Helper()
		if len(args) == 0 || uintptr(args[0]) != o.addr() {
			t.Fatalf("method called with wrong object pointer: %#x", args)
		}
		if o.refs <= 0 {
			t.Fatal("method called on released object")
		}
		switch fn {
		case fakeRelease:
			o.refs--
			return uint64(o.refs), nil
		case fakeGetPointer:
			if o.failGetPointer {
				return 0, errors.ForeignCall(-2147467259, "vtable call faulted")
			}
			if len(o.data) == 0 {
				return 0, nil
			}
			return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(o.data)))), nil
		case fakeGetSize:
			return uint64(len(o.data)), nil
		}
		t.Fatalf("unexpected slot address %#x", fn)
		return 0, nil
	}
}

func TestUnwrapBlobCopiesAndReleasesOnce(t *testing.T) {
	obj := newFakeCOM([]byte("DXBC\x01\x02\x03"))

	blob, err := unwrapBlob(obj.dispatch(t), obj.addr())
	if err != nil {
		t.Fatalf("unwrapBlob: %v", err)
	}
	if string(blob.Bytes()) != "DXBC\x01\x02\x03" {
		t.Errorf("blob bytes = %q", blob.Bytes())
	}
	if obj.refs != 0 {
		t.Errorf("refcount = %d, want exactly one release", obj.refs)
	}

	// the copy must be independent of the foreign buffer
	obj.data[0] = 'X'
	if blob.Bytes()[0] != 'D' {
		t.Error("blob aliases foreign memory")
	}
}

func TestUnwrapBlobReleasesOnFailure(t *testing.T) {
	obj := newFakeCOM([]byte("payload"))
	obj.failGetPointer = true

	_, err := unwrapBlob(obj.dispatch(t), obj.addr())
	if !stderrors.Is(err, errors.ErrForeignCall) {
		t.Fatalf("expected foreign call error, got %v", err)
	}
	if obj.refs != 0 {
		t.Errorf("refcount = %d, failure paths must still release once", obj.refs)
	}
}

func TestUnwrapBlobEmpty(t *testing.T) {
	obj := newFakeCOM(nil)

	blob, err := unwrapBlob(obj.dispatch(t), obj.addr())
	if err != nil {
		t.Fatalf("unwrapBlob: %v", err)
	}
	if blob.Len() != 0 {
		t.Errorf("len = %d", blob.Len())
	}
	if obj.refs != 0 {
		t.Errorf("refcount = %d", obj.refs)
	}
}

func TestUnwrapBlobNull(t *testing.T) {
	called := false
	call := func(fn uintptr, args ...uint64) (uint64, error) {
		called = true
		return 0, nil
	}
	blob, err := unwrapBlob(call, 0)
	if blob != nil || err != nil {
		t.Errorf("null object: blob=%v err=%v", blob, err)
	}
	if called {
		t.Error("no methods should be dispatched for a null object")
	}
}

func TestBlobString(t *testing.T) {
	b := &Blob{data: []byte("warning X3206: implicit truncation\x00")}
	if b.String() != "warning X3206: implicit truncation" {
		t.Errorf("String = %q", b.String())
	}

	var nilBlob *Blob
	if nilBlob.String() != "" || nilBlob.Len() != 0 {
		t.Error("nil blob accessors should be safe")
	}
}
