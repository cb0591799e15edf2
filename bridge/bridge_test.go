package bridge

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/pe/petest"
)

// writeTestLibrary builds a loadable library whose imports all fall
// within the emulation tables. It declares no entry point, so opening
// it never executes foreign code.
func writeTestLibrary(t *testing.T) string {
	t.Helper()
	spec := petest.Spec{
		Text: []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0xC3},
		Imports: []petest.Import{
			{Module: "KERNEL32.dll", Symbol: "HeapAlloc"},
			{Module: "KERNEL32.dll", Symbol: "TlsGetValue"},
			{Module: "msvcrt.dll", Symbol: "memcpy"},
		},
		Exports: map[string]uint32{"D3DCompile": petest.TextRVA},
	}
	path := filepath.Join(t.TempDir(), "d3dcompiler_47.dll")
	if err := os.WriteFile(path, petest.Build(spec), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenMissingLibrary(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.dll"), nil)
	if !stderrors.Is(err, errors.ErrLibraryNotFound) {
		t.Fatalf("expected library not found, got %v", err)
	}
}

func TestOpenBindsEmulatedImports(t *testing.T) {
	b, err := Open(writeTestLibrary(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	addr, err := b.Export("D3DCompile")
	if err != nil || addr == 0 {
		t.Errorf("Export: addr=%#x err=%v", addr, err)
	}
	if _, err := b.Export("D3DPreprocess"); !stderrors.Is(err, errors.ErrUnresolvedImport) {
		t.Errorf("missing export should fail, got %v", err)
	}
}

func TestOpenUnknownImportFails(t *testing.T) {
	spec := petest.Spec{
		Text:    []byte{0xC3},
		Imports: []petest.Import{{Module: "user32.dll", Symbol: "MessageBoxA"}},
	}
	path := filepath.Join(t.TempDir(), "lib.dll")
	if err := os.WriteFile(path, petest.Build(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path, nil)
	if !stderrors.Is(err, errors.ErrUnresolvedImport) {
		t.Fatalf("expected unresolved import, got %v", err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Symbol != "MessageBoxA" {
		t.Errorf("error should name the symbol, got %+v", e)
	}
}

func TestInvokeSurfacesThreadSetupFailure(t *testing.T) {
	b, err := Open(writeTestLibrary(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	addr, err := b.Export("D3DCompile")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// a failing thread setup must become a call error, not a zero
	// return that reads as a success status
	boom := stderrors.New("segment base unavailable")
	b.threadSetup = func() error { return boom }

	ret, err := b.Invoke(addr)
	if err == nil {
		t.Fatalf("Invoke must fail, returned %#x", ret)
	}
	if !stderrors.Is(err, errors.ErrForeignCall) {
		t.Errorf("expected foreign call error, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("error should carry the setup cause, got %v", err)
	}
}

func TestClosedBridgeRefusesCalls(t *testing.T) {
	b, err := Open(writeTestLibrary(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := b.Invoke(0x1234); !stderrors.Is(err, errors.ErrBridgeClosed) {
		t.Errorf("Invoke after close: %v", err)
	}
	if _, err := b.Export("D3DCompile"); !stderrors.Is(err, errors.ErrBridgeClosed) {
		t.Errorf("Export after close: %v", err)
	}
	if _, err := b.UnwrapBlob(0); err != nil {
		t.Errorf("null unwrap should stay a no-op: %v", err)
	}
}

func TestFrameMarshalling(t *testing.T) {
	b, err := Open(writeTestLibrary(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	f := b.NewFrame()
	defer f.Release()

	src := f.CString("float4 main() : SV_Target { return 0; }")
	if src == 0 {
		t.Fatal("CString returned NULL")
	}
	out := f.OutPtr()
	if out == 0 {
		t.Fatal("OutPtr returned NULL")
	}
	if f.Deref(out) != 0 {
		t.Error("fresh out slot should be zeroed")
	}

	// frames are independent: a second frame gets distinct buffers
	g := b.NewFrame()
	defer g.Release()
	if g.CString("x") == src {
		t.Error("frames share buffers")
	}
}
