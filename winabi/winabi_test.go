package winabi

import (
	"bytes"
	"crypto/sha1"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/dxbc-bridge/errors"
)

type fakeMinter struct {
	minted []string
	next   uintptr
}

func (m *fakeMinter) Mint(s *State, fn Func) (uintptr, error) {
	m.minted = append(m.minted, fn.Name)
	m.next += 8
	return m.next, nil
}

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(nil)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func call(t *testing.T, s *State, table map[string]Func, name string, args ...uint64) uint64 {
	t.Helper()
	fn, ok := table[name]
	if !ok {
		t.Fatalf("no entry %q", name)
	}
	return fn.Fn(s, args)
}

func TestNormalizeModule(t *testing.T) {
	cases := map[string]string{
		"KERNEL32.dll":                   "kernel32",
		"api-ms-win-core-heap-l1-1-0.dll": "kernel32",
		"api-ms-win-crt-string-l1-1-0":   "msvcrt",
		"msvcr120.dll":                   "msvcrt",
		"ucrtbase.dll":                   "msvcrt",
		"vcruntime140.dll":               "msvcrt",
		"api-ms-win-core-registry-l1-1-0": "advapi32",
		"api-ms-win-security-base-l1-1-0": "advapi32",
		"ntdll.dll":                      "ntdll",
		"RPCRT4.dll":                     "rpcrt4",
	}
	for in, want := range cases {
		if got := normalizeModule(in); got != want {
			t.Errorf("normalizeModule(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolverBindsAndCaches(t *testing.T) {
	s := newTestState(t)
	m := &fakeMinter{}
	r := NewResolver(s, m, nil)

	a, err := r.Resolve("KERNEL32.dll", "HeapAlloc")
	if err != nil || a == 0 {
		t.Fatalf("Resolve: addr=%#x err=%v", a, err)
	}
	b, err := r.Resolve("api-ms-win-core-heap-l1-1-0.dll", "HeapAlloc")
	if err != nil {
		t.Fatalf("Resolve via api set: %v", err)
	}
	if a != b {
		t.Error("same entry point should resolve to the same minted address")
	}
	if len(m.minted) != 1 {
		t.Errorf("minted %d thunks, want 1", len(m.minted))
	}
}

func TestResolverNamesUnknownSymbol(t *testing.T) {
	s := newTestState(t)
	r := NewResolver(s, &fakeMinter{}, nil)

	_, err := r.Resolve("kernel32.dll", "CreateRemoteThread")
	if !stderrors.Is(err, errors.ErrUnresolvedImport) {
		t.Fatalf("expected unresolved import, got %v", err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Symbol != "CreateRemoteThread" {
		t.Errorf("error should name the symbol, got %+v", e)
	}
}

func TestHeapAllocation(t *testing.T) {
	s := newTestState(t)

	addr := uintptr(call(t, s, kernel32, "HeapAlloc", 1, heapZeroMemory, 100))
	if addr == 0 {
		t.Fatal("HeapAlloc returned NULL")
	}
	if addr%allocAlign != 0 {
		t.Errorf("allocation not %d-aligned: %#x", allocAlign, addr)
	}
	for _, b := range mem(addr, 100) {
		if b != 0 {
			t.Fatal("HEAP_ZERO_MEMORY block not zeroed")
		}
	}
	if got := call(t, s, kernel32, "HeapSize", 1, 0, uint64(addr)); got < 100 {
		t.Errorf("HeapSize = %d", got)
	}
	if call(t, s, kernel32, "HeapFree", 1, 0, uint64(addr)) != 1 {
		t.Error("HeapFree failed")
	}
}

func TestRealloc(t *testing.T) {
	s := newTestState(t)

	p := uintptr(call(t, s, msvcrt, "malloc", 8))
	copy(mem(p, 8), "abcdefgh")
	q := uintptr(call(t, s, msvcrt, "realloc", uint64(p), 64))
	if q == 0 {
		t.Fatal("realloc returned NULL")
	}
	if string(mem(q, 8)) != "abcdefgh" {
		t.Error("realloc lost block contents")
	}
}

func TestTLSSlots(t *testing.T) {
	s := newTestState(t)

	idx := call(t, s, kernel32, "TlsAlloc")
	if call(t, s, kernel32, "TlsSetValue", idx, 0xBEEF) != 1 {
		t.Fatal("TlsSetValue failed")
	}
	if got := call(t, s, kernel32, "TlsGetValue", idx); got != 0xBEEF {
		t.Errorf("TlsGetValue = %#x", got)
	}
	if call(t, s, kernel32, "TlsFree", idx) != 1 {
		t.Fatal("TlsFree failed")
	}
	if call(t, s, kernel32, "TlsGetValue", idx) != 0 {
		t.Error("freed slot should read as zero")
	}
	if s.LastError() != errInvalidParameter {
		t.Errorf("last error = %d after reading freed slot", s.LastError())
	}
}

func TestLastError(t *testing.T) {
	s := newTestState(t)
	call(t, s, kernel32, "SetLastError", 1234)
	if got := call(t, s, kernel32, "GetLastError"); got != 1234 {
		t.Errorf("GetLastError = %d", got)
	}
}

func TestCStringEntries(t *testing.T) {
	s := newTestState(t)

	str := func(text string) uintptr {
		p := s.Alloc(len(text)+1, true)
		copy(mem(p, len(text)), text)
		return p
	}

	if call(t, s, msvcrt, "strlen", uint64(str("hello"))) != 5 {
		t.Error("strlen")
	}
	if int32(call(t, s, msvcrt, "strcmp", uint64(str("abc")), uint64(str("abd")))) >= 0 {
		t.Error("strcmp ordering")
	}
	if int32(call(t, s, msvcrt, "_stricmp", uint64(str("ABC")), uint64(str("abc")))) != 0 {
		t.Error("_stricmp should fold case")
	}

	hay := str("float4 main()")
	if got := call(t, s, msvcrt, "strstr", uint64(hay), uint64(str("main"))); got != uint64(hay+7) {
		t.Errorf("strstr = %#x, want %#x", got, hay+7)
	}

	dst := s.Alloc(16, true)
	if call(t, s, msvcrt, "strcpy_s", uint64(dst), 16, uint64(str("ps_5_0"))) != 0 {
		t.Error("strcpy_s should succeed")
	}
	if cstr(dst) != "ps_5_0" {
		t.Errorf("strcpy_s wrote %q", cstr(dst))
	}
	if call(t, s, msvcrt, "strcpy_s", uint64(dst), 3, uint64(str("too long"))) != 34 {
		t.Error("strcpy_s should fail with ERANGE")
	}
}

func TestWideCharConversion(t *testing.T) {
	s := newTestState(t)

	src := s.Alloc(16, true)
	copy(mem(src, 7), "shader\x00")
	wide := s.Alloc(32, true)

	n := call(t, s, kernel32, "MultiByteToWideChar", 65001, 0, uint64(src), ^uint64(0), uint64(wide), 16)
	if n != 7 { // six characters plus terminator
		t.Fatalf("MultiByteToWideChar = %d", n)
	}
	if wstr(wide) != "shader" {
		t.Errorf("wide result = %q", wstr(wide))
	}

	back := s.Alloc(16, true)
	n = call(t, s, kernel32, "WideCharToMultiByte", 65001, 0, uint64(wide), ^uint64(0), uint64(back), 16, 0, 0)
	if n != 7 || cstr(back) != "shader" {
		t.Errorf("round trip = %d %q", n, cstr(back))
	}
}

func TestCryptHashProvider(t *testing.T) {
	s := newTestState(t)

	hOut := s.Alloc(8, true)
	if call(t, s, advapi32, "CryptCreateHash", 0x1000, 0x8004, 0, 0, uint64(hOut)) != 1 {
		t.Fatal("CryptCreateHash failed")
	}
	h := uint64(getU64(hOut))

	data := s.Alloc(16, true)
	copy(mem(data, 4), "DXBC")
	if call(t, s, advapi32, "CryptHashData", h, uint64(data), 4, 0) != 1 {
		t.Fatal("CryptHashData failed")
	}

	out := s.Alloc(32, true)
	lenPtr := s.Alloc(4, true)
	putU32(lenPtr, 32)
	if call(t, s, advapi32, "CryptGetHashParam", h, hpHashVal, uint64(out), uint64(lenPtr), 0) != 1 {
		t.Fatal("CryptGetHashParam failed")
	}
	want := sha1.Sum([]byte("DXBC"))
	if !bytes.Equal(mem(out, sha1.Size), want[:]) {
		t.Error("hash value mismatch")
	}
	if call(t, s, advapi32, "CryptDestroyHash", h) != 1 {
		t.Error("CryptDestroyHash failed")
	}
}

func TestRegistryReportsAbsence(t *testing.T) {
	s := newTestState(t)
	if call(t, s, advapi32, "RegOpenKeyExA", 0, 0, 0, 0, 0) != errFileNotFound {
		t.Error("registry keys should not exist")
	}
}

func TestFormattedOutput(t *testing.T) {
	s := newTestState(t)

	str := func(text string) uintptr {
		p := s.Alloc(len(text)+1, true)
		copy(mem(p, len(text)), text)
		return p
	}

	format := str("error %s at line %d: 0x%X%%")
	valist := s.Alloc(24, true)
	putU64(valist, uint64(str("main")))
	putU64(valist+8, 42)
	putU64(valist+16, 0xBEEF)

	dst := s.Alloc(64, true)
	n := call(t, s, msvcrt, "_vsnprintf", uint64(dst), 64, uint64(format), uint64(valist))
	if want := "error main at line 42: 0xBEEF%"; cstr(dst) != want || n != uint64(len(want)) {
		t.Errorf("_vsnprintf wrote %q, returned %d", cstr(dst), n)
	}

	// truncation keeps the terminator inside the buffer
	n = call(t, s, msvcrt, "_vsnprintf", uint64(dst), 8, uint64(format), uint64(valist))
	if cstr(dst) != "error m" || n != 7 {
		t.Errorf("truncated write = %q, returned %d", cstr(dst), n)
	}

	n = call(t, s, msvcrt, "sprintf_s", uint64(dst), 64, uint64(str("X%04X: %s")), 0x1234, uint64(str("redefinition")))
	if want := "X1234: redefinition"; cstr(dst) != want || n != uint64(len(want)) {
		t.Errorf("sprintf_s wrote %q, returned %d", cstr(dst), n)
	}

	if int32(call(t, s, msvcrt, "_vsnwprintf", uint64(dst), 64, 0, 0)) != -1 {
		t.Error("_vsnwprintf should report failure")
	}
}

func TestSortWithForeignComparator(t *testing.T) {
	s := newTestState(t)
	const cmpEntry = uintptr(0xC0DE)
	s.CallForeign = func(entry uintptr, args ...uint64) uint64 {
		if entry != cmpEntry {
			t.Fatalf("comparator called at %#x", entry)
		}
		a := int32(getU32(uintptr(args[0])))
		b := int32(getU32(uintptr(args[1])))
		return i64(a - b)
	}

	values := []uint32{90, 3, 512, 3, 7}
	base := s.Alloc(4*len(values), true)
	for i, v := range values {
		putU32(base+uintptr(i)*4, v)
	}
	call(t, s, msvcrt, "qsort", uint64(base), uint64(len(values)), 4, uint64(cmpEntry))
	for i, want := range []uint32{3, 3, 7, 90, 512} {
		if got := getU32(base + uintptr(i)*4); got != want {
			t.Errorf("sorted[%d] = %d, want %d", i, got, want)
		}
	}

	key := s.Alloc(4, true)
	putU32(key, 90)
	got := call(t, s, msvcrt, "bsearch", uint64(key), uint64(base), uint64(len(values)), 4, uint64(cmpEntry))
	if got != uint64(base+12) {
		t.Errorf("bsearch = %#x, want %#x", got, base+12)
	}
	putU32(key, 11)
	if call(t, s, msvcrt, "bsearch", uint64(key), uint64(base), uint64(len(values)), 4, uint64(cmpEntry)) != 0 {
		t.Error("bsearch should miss for an absent key")
	}
}

func TestUndecorateName(t *testing.T) {
	s := newTestState(t)

	name := s.Alloc(32, true)
	copy(mem(name, 12), "?main@@YAXXZ")

	out := uintptr(call(t, s, msvcrt, "__unDName", 0, uint64(name), 0, 0, 0, 0))
	if out == 0 || cstr(out) != "?main@@YAXXZ" {
		t.Errorf("allocated result = %q", cstr(out))
	}

	buf := s.Alloc(32, true)
	out = uintptr(call(t, s, msvcrt, "__unDName", uint64(buf), uint64(name), 32, 0, 0, 0))
	if out != buf || cstr(buf) != "?main@@YAXXZ" {
		t.Errorf("buffered result = %q", cstr(buf))
	}
}

func TestUuidCreate(t *testing.T) {
	s := newTestState(t)

	out := s.Alloc(16, true)
	if call(t, s, rpcrt4, "UuidCreate", uint64(out)) != 0 {
		t.Fatal("UuidCreate failed")
	}
	b := mem(out, 16)
	if b[6]>>4 != 4 {
		t.Errorf("version nibble = %x", b[6]>>4)
	}
	if b[8]>>6 != 2 {
		t.Errorf("variant bits = %b", b[8]>>6)
	}

	second := s.Alloc(16, true)
	call(t, s, rpcrt4, "UuidCreate", uint64(second))
	if bytes.Equal(b, mem(second, 16)) {
		t.Error("consecutive ids should differ")
	}

	if call(t, s, rpcrt4, "UuidCreate", 0) != errInvalidParameter {
		t.Error("null output should be rejected")
	}
}

func TestResolverBindsRPCRuntime(t *testing.T) {
	s := newTestState(t)
	r := NewResolver(s, &fakeMinter{}, nil)
	if addr, err := r.Resolve("RPCRT4.dll", "UuidCreate"); err != nil || addr == 0 {
		t.Fatalf("Resolve: addr=%#x err=%v", addr, err)
	}
}

func TestHandleFileIO(t *testing.T) {
	s := newTestState(t)

	f, err := os.Create(filepath.Join(t.TempDir(), "blob.bin"))
	if err != nil {
		t.Fatal(err)
	}
	h := s.newHandle(f)

	payload := "DXBC blob"
	src := s.Alloc(16, true)
	copy(mem(src, len(payload)), payload)
	out := s.Alloc(4, true)

	if call(t, s, kernel32, "WriteFile", uint64(h), uint64(src), uint64(len(payload)), uint64(out), 0) != 1 {
		t.Fatal("WriteFile failed")
	}
	if getU32(out) != uint32(len(payload)) {
		t.Errorf("bytes written = %d", getU32(out))
	}

	high := s.Alloc(4, true)
	if got := call(t, s, kernel32, "GetFileSize", uint64(h), uint64(high)); got != uint64(len(payload)) || getU32(high) != 0 {
		t.Errorf("GetFileSize = %d, high = %d", got, getU32(high))
	}
	size := s.Alloc(8, true)
	if call(t, s, kernel32, "GetFileSizeEx", uint64(h), uint64(size)) != 1 || getU64(size) != uint64(len(payload)) {
		t.Errorf("GetFileSizeEx wrote %d", getU64(size))
	}

	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	dst := s.Alloc(16, true)
	if call(t, s, kernel32, "ReadFile", uint64(h), uint64(dst), 16, uint64(out), 0) != 1 {
		t.Fatal("ReadFile failed")
	}
	if getU32(out) != uint32(len(payload)) || string(mem(dst, len(payload))) != payload {
		t.Errorf("read %d bytes: %q", getU32(out), mem(dst, len(payload)))
	}

	// a second read sits at end of file: success, zero transferred
	if call(t, s, kernel32, "ReadFile", uint64(h), uint64(dst), 16, uint64(out), 0) != 1 || getU32(out) != 0 {
		t.Errorf("read at EOF = %d bytes", getU32(out))
	}

	if call(t, s, kernel32, "ReadFile", 0xDEAD, uint64(dst), 16, uint64(out), 0) != 0 {
		t.Error("unknown handle should fail")
	}
}

func TestFileMappingView(t *testing.T) {
	s := newTestState(t)

	path := filepath.Join(t.TempDir(), "mapped.bin")
	if err := os.WriteFile(path, []byte("DXBCmapping!"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	h := s.newHandle(f)

	mapping := call(t, s, kernel32, "CreateFileMappingW", uint64(h), 0, 2, 0, 0, 0)
	if mapping == 0 {
		t.Fatal("CreateFileMappingW failed")
	}

	const fileMapRead = 0x4
	view := call(t, s, kernel32, "MapViewOfFile", mapping, fileMapRead, 0, 0, 0)
	if view == 0 {
		t.Fatal("MapViewOfFile failed")
	}
	if string(mem(uintptr(view), 12)) != "DXBCmapping!" {
		t.Errorf("view contents = %q", mem(uintptr(view), 12))
	}

	if call(t, s, kernel32, "UnmapViewOfFile", view) != 1 {
		t.Error("UnmapViewOfFile failed")
	}
	if call(t, s, kernel32, "CloseHandle", mapping) != 1 {
		t.Error("CloseHandle should release the mapping object")
	}
	if call(t, s, kernel32, "MapViewOfFile", mapping, fileMapRead, 0, 0, 0) != 0 {
		t.Error("closed mapping should not map")
	}
}

func TestLocaleMapString(t *testing.T) {
	s := newTestState(t)

	src := s.Alloc(32, true)
	for i, c := range "Shader" {
		putU16(src+uintptr(i)*2, uint16(c))
	}

	const mapLower = 0x100
	// negative source length measures through the terminator
	if n := call(t, s, kernel32, "LCMapStringW", 0, mapLower, uint64(src), ^uint64(0)&0xFFFFFFFF, 0, 0); n != 7 {
		t.Fatalf("measuring call = %d", n)
	}

	dst := s.Alloc(32, true)
	n := call(t, s, kernel32, "LCMapStringW", 0, mapLower, uint64(src), ^uint64(0)&0xFFFFFFFF, uint64(dst), 16)
	if n != 7 || wstr(dst) != "shader" {
		t.Errorf("mapped = %q, returned %d", wstr(dst), n)
	}
}
