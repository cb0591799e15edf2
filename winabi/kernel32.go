package winabi

import (
	"io"
	"runtime"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	errFileNotFound     = 2
	errInvalidParameter = 87
	errEnvVarNotFound   = 203

	invalidHandle = ^uint64(0)

	heapZeroMemory = 0x8

	pseudoProcessHandle = ^uint64(0) // (HANDLE)-1
	pseudoModuleHandle  = 0x400000
)

func arg(args []uint64, i int) uint64 {
	if i < len(args) {
		return args[i]
	}
	return 0
}

func boolRet(ok bool) uint64 {
	if ok {
		return 1
	}
	return 0
}

// windowsEpochDelta is the span between 1601-01-01 and 1970-01-01 in
// 100ns FILETIME ticks.
const windowsEpochDelta = 116444736000000000

var kernel32 = map[string]Func{
	// process and module queries
	"GetCurrentProcess": {Name: "GetCurrentProcess", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return pseudoProcessHandle
	}},
	"GetCurrentProcessId": {Name: "GetCurrentProcessId", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"GetCurrentThreadId": {Name: "GetCurrentThreadId", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"TerminateProcess": {Name: "TerminateProcess", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("foreign code requested process termination",
			zap.Uint32("exit_code", uint32(arg(args, 1))))
		return 0
	}},
	"IsDebuggerPresent": {Name: "IsDebuggerPresent", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return 0
	}},
	"IsProcessorFeaturePresent": {Name: "IsProcessorFeaturePresent", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		// feature 23 is "fast fail available"; claiming it would route
		// asserts to an interrupt we cannot catch
		return 0
	}},
	"GetModuleHandleA": {Name: "GetModuleHandleA", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return pseudoModuleHandle
	}},
	"GetModuleHandleW": {Name: "GetModuleHandleW", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return pseudoModuleHandle
	}},
	"GetModuleFileNameA": {Name: "GetModuleFileNameA", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		name := "d3dcompiler_47.dll\x00"
		buf := mem(uintptr(arg(args, 1)), int(arg(args, 2)))
		return uint64(copy(buf, name)) - 1
	}},
	"LoadLibraryExW": {Name: "LoadLibraryExW", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(errFileNotFound)
		return 0
	}},
	"FreeLibrary": {Name: "FreeLibrary", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"DisableThreadLibraryCalls": {Name: "DisableThreadLibraryCalls", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"GetProcAddress": {Name: "GetProcAddress", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(errInvalidParameter)
		return 0
	}},
	"GetEnvironmentVariableA": {Name: "GetEnvironmentVariableA", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(errEnvVarNotFound)
		return 0
	}},

	// structured exception stubs
	"UnhandledExceptionFilter": {Name: "UnhandledExceptionFilter", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return 0 // EXCEPTION_CONTINUE_SEARCH
	}},
	"SetUnhandledExceptionFilter": {Name: "SetUnhandledExceptionFilter", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return 0
	}},

	// heap
	"GetProcessHeap": {Name: "GetProcessHeap", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"HeapCreate": {Name: "HeapCreate", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"HeapDestroy": {Name: "HeapDestroy", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"HeapAlloc": {Name: "HeapAlloc", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.Alloc(int(arg(args, 2)), arg(args, 1)&heapZeroMemory != 0))
	}},
	"HeapFree": {Name: "HeapFree", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		s.Free(uintptr(arg(args, 2)))
		return 1
	}},
	"HeapSize": {Name: "HeapSize", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.AllocSize(uintptr(arg(args, 2))))
	}},
	"LocalAlloc": {Name: "LocalAlloc", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		const lmemZeroInit = 0x40
		return uint64(s.Alloc(int(arg(args, 1)), arg(args, 0)&lmemZeroInit != 0))
	}},
	"LocalFree": {Name: "LocalFree", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		s.Free(uintptr(arg(args, 0)))
		return 0
	}},
	"VirtualAlloc": {Name: "VirtualAlloc", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		// protection flags are ignored, the arena is already read-write
		return uint64(s.Alloc(int(arg(args, 1)), true))
	}},
	"VirtualFree": {Name: "VirtualFree", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		s.Free(uintptr(arg(args, 0)))
		return 1
	}},

	// critical sections are no-ops: the bridge serializes all foreign calls
	"InitializeCriticalSection": {Name: "InitializeCriticalSection", Arity: 1, Fn: nop},
	"InitializeCriticalSectionAndSpinCount": {Name: "InitializeCriticalSectionAndSpinCount", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"InitializeCriticalSectionEx": {Name: "InitializeCriticalSectionEx", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"DeleteCriticalSection": {Name: "DeleteCriticalSection", Arity: 1, Fn: nop},
	"EnterCriticalSection":  {Name: "EnterCriticalSection", Arity: 1, Fn: nop},
	"LeaveCriticalSection":  {Name: "LeaveCriticalSection", Arity: 1, Fn: nop},
	"Sleep": {Name: "Sleep", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		time.Sleep(time.Duration(arg(args, 0)) * time.Millisecond)
		return 0
	}},

	// thread-local storage
	"TlsAlloc": {Name: "TlsAlloc", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.tlsAlloc())
	}},
	"TlsFree": {Name: "TlsFree", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return boolRet(s.tlsFree(uint32(arg(args, 0))))
	}},
	"TlsGetValue": {Name: "TlsGetValue", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.tlsGet(uint32(arg(args, 0))))
	}},
	"TlsSetValue": {Name: "TlsSetValue", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return boolRet(s.tlsSet(uint32(arg(args, 0)), uintptr(arg(args, 1))))
	}},

	// last error
	"GetLastError": {Name: "GetLastError", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.LastError())
	}},
	"SetLastError": {Name: "SetLastError", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(uint32(arg(args, 0)))
		return 0
	}},

	// time and system queries
	"GetTickCount": {Name: "GetTickCount", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return uint64(time.Since(s.startTime).Milliseconds())
	}},
	"GetTickCount64": {Name: "GetTickCount64", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return uint64(time.Since(s.startTime).Milliseconds())
	}},
	"QueryPerformanceCounter": {Name: "QueryPerformanceCounter", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		putU64(uintptr(arg(args, 0)), uint64(time.Since(s.startTime).Nanoseconds()))
		return 1
	}},
	"QueryPerformanceFrequency": {Name: "QueryPerformanceFrequency", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		putU64(uintptr(arg(args, 0)), uint64(time.Second.Nanoseconds()))
		return 1
	}},
	"GetSystemTimeAsFileTime": {Name: "GetSystemTimeAsFileTime", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		ticks := uint64(time.Now().UnixNano()/100) + windowsEpochDelta
		putU64(uintptr(arg(args, 0)), ticks)
		return 0
	}},
	"GetSystemInfo": {Name: "GetSystemInfo", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		info := uintptr(arg(args, 0))
		putU32(info+4, 4096)                       // page size
		putU64(info+8, 0x10000)                    // min application address
		putU64(info+16, 0x7FFF_FFFE_FFFF)          // max application address
		putU32(info+32, uint32(runtime.NumCPU()))  // processor count
		putU32(info+36, 8664)                      // processor type
		putU32(info+40, 0x10000)                   // allocation granularity
		return 0
	}},

	// diagnostics
	"OutputDebugStringA": {Name: "OutputDebugStringA", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Debug("foreign debug output", zap.String("text", cstr(uintptr(arg(args, 0)))))
		return 0
	}},

	// files: the compiler only opens includes through the caller-supplied
	// resolver, so direct file access is refused
	"CreateFileA": {Name: "CreateFileA", Arity: 7, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(errFileNotFound)
		return invalidHandle
	}},
	"CreateFileW": {Name: "CreateFileW", Arity: 7, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(errFileNotFound)
		return invalidHandle
	}},
	"GetFileAttributesW": {Name: "GetFileAttributesW", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		s.SetLastError(errFileNotFound)
		return invalidHandle // INVALID_FILE_ATTRIBUTES
	}},
	"CloseHandle": {Name: "CloseHandle", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return boolRet(s.closeHandle(uintptr(arg(args, 0))))
	}},

	// handle-based IO still works for handles minted by the emulator
	"ReadFile":      {Name: "ReadFile", Arity: 5, Fn: readFile},
	"WriteFile":     {Name: "WriteFile", Arity: 5, Fn: writeFile},
	"GetFileSize":   {Name: "GetFileSize", Arity: 2, Fn: getFileSize},
	"GetFileSizeEx": {Name: "GetFileSizeEx", Arity: 2, Fn: getFileSizeEx},

	// file mappings
	"CreateFileMappingW": {Name: "CreateFileMappingW", Arity: 6, Fn: createFileMapping},
	"MapViewOfFile":      {Name: "MapViewOfFile", Arity: 5, Fn: mapViewOfFile},
	"UnmapViewOfFile":    {Name: "UnmapViewOfFile", Arity: 1, Fn: unmapViewOfFile},

	// string conversion
	"MultiByteToWideChar": {Name: "MultiByteToWideChar", Arity: 6, Fn: multiByteToWideChar},
	"WideCharToMultiByte": {Name: "WideCharToMultiByte", Arity: 8, Fn: wideCharToMultiByte},
	"lstrcmpiA": {Name: "lstrcmpiA", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return uint64(uint32(strcmpFold(cstr(uintptr(arg(args, 0))), cstr(uintptr(arg(args, 1))))))
	}},
	"GetACP": {Name: "GetACP", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		return 1252
	}},
	"LCMapStringW": {Name: "LCMapStringW", Arity: 6, Fn: lcMapStringW},
}

func nop(s *State, args []uint64) uint64 { return 0 }

func multiByteToWideChar(s *State, args []uint64) uint64 {
	src := uintptr(arg(args, 2))
	srcLen := int(int32(arg(args, 3)))
	dst := uintptr(arg(args, 4))
	dstLen := int(int32(arg(args, 5)))

	if srcLen < 0 {
		srcLen = cstrLen(src) + 1 // include the terminator
	}
	units := utf16.Encode([]rune(string(mem(src, srcLen))))

	if dstLen == 0 {
		return uint64(len(units))
	}
	n := len(units)
	if n > dstLen {
		s.SetLastError(122) // ERROR_INSUFFICIENT_BUFFER
		return 0
	}
	for i, u := range units {
		putU16(dst+uintptr(i)*2, u)
	}
	return uint64(n)
}

func wideCharToMultiByte(s *State, args []uint64) uint64 {
	src := uintptr(arg(args, 2))
	srcLen := int(int32(arg(args, 3)))
	dst := uintptr(arg(args, 4))
	dstLen := int(int32(arg(args, 5)))

	if srcLen < 0 {
		srcLen = wstrLen(src) + 1
	}
	units := make([]uint16, srcLen)
	for i := range units {
		units[i] = getU16(src + uintptr(i)*2)
	}
	encoded := []byte(string(utf16.Decode(units)))

	if dstLen == 0 {
		return uint64(len(encoded))
	}
	if len(encoded) > dstLen {
		s.SetLastError(122)
		return 0
	}
	copy(mem(dst, len(encoded)), encoded)
	return uint64(len(encoded))
}

const invalidFileSize = 0xFFFFFFFF

func readFile(s *State, args []uint64) uint64 {
	f := s.file(uintptr(arg(args, 0)))
	if f == nil {
		s.SetLastError(errInvalidParameter)
		return 0
	}
	n, err := f.Read(mem(uintptr(arg(args, 1)), int(uint32(arg(args, 2)))))
	if err != nil && err != io.EOF {
		return 0
	}
	// end of file reports success with zero bytes transferred
	if out := uintptr(arg(args, 3)); out != 0 {
		putU32(out, uint32(n))
	}
	return 1
}

func writeFile(s *State, args []uint64) uint64 {
	f := s.file(uintptr(arg(args, 0)))
	if f == nil {
		s.SetLastError(errInvalidParameter)
		return 0
	}
	n, err := f.Write(mem(uintptr(arg(args, 1)), int(uint32(arg(args, 2)))))
	if err != nil {
		return 0
	}
	if out := uintptr(arg(args, 3)); out != 0 {
		putU32(out, uint32(n))
	}
	return 1
}

func getFileSize(s *State, args []uint64) uint64 {
	f := s.file(uintptr(arg(args, 0)))
	if f == nil {
		s.SetLastError(errInvalidParameter)
		return invalidFileSize
	}
	st, err := f.Stat()
	if err != nil {
		return invalidFileSize
	}
	if high := uintptr(arg(args, 1)); high != 0 {
		putU32(high, uint32(uint64(st.Size())>>32))
	}
	return uint64(uint32(st.Size()))
}

func getFileSizeEx(s *State, args []uint64) uint64 {
	f := s.file(uintptr(arg(args, 0)))
	if f == nil {
		s.SetLastError(errInvalidParameter)
		return 0
	}
	st, err := f.Stat()
	if err != nil {
		return 0
	}
	putU64(uintptr(arg(args, 1)), uint64(st.Size()))
	return 1
}

func createFileMapping(s *State, args []uint64) uint64 {
	f := s.file(uintptr(arg(args, 0)))
	if f == nil {
		s.SetLastError(errInvalidParameter)
		return 0
	}
	size := arg(args, 3)<<32 | arg(args, 4)&invalidFileSize
	if size == 0 {
		st, err := f.Stat()
		if err != nil {
			return 0
		}
		size = uint64(st.Size())
	}
	return uint64(s.newMapping(f, size))
}

func mapViewOfFile(s *State, args []uint64) uint64 {
	m, ok := s.mappings[uintptr(arg(args, 0))]
	if !ok {
		s.SetLastError(errInvalidParameter)
		return 0
	}
	offset := int64(arg(args, 2)<<32 | arg(args, 3)&invalidFileSize)
	length := int(arg(args, 4))
	if length == 0 {
		length = int(int64(m.size) - offset)
	}
	if length <= 0 {
		s.SetLastError(errInvalidParameter)
		return 0
	}
	prot := unix.PROT_READ
	if arg(args, 1)&0x2 != 0 { // FILE_MAP_WRITE
		prot |= unix.PROT_WRITE
	}
	view, err := unix.Mmap(int(m.f.Fd()), offset, length, prot, unix.MAP_SHARED)
	if err != nil {
		s.logger.Error("file view mapping failed", zap.Error(err))
		return 0
	}
	addr := sliceAddr(view)
	s.views[addr] = view
	return uint64(addr)
}

func unmapViewOfFile(s *State, args []uint64) uint64 {
	addr := uintptr(arg(args, 0))
	if view, ok := s.views[addr]; ok {
		delete(s.views, addr)
		unix.Munmap(view)
	}
	return 1
}

// lcMapStringW covers the ASCII case folds the compiler requests; other
// transforms copy the input through unchanged.
func lcMapStringW(s *State, args []uint64) uint64 {
	const (
		mapLower = 0x100
		mapUpper = 0x200
	)
	flags := uint32(arg(args, 1))
	src := uintptr(arg(args, 2))
	srcLen := int(int32(uint32(arg(args, 3))))
	dst := uintptr(arg(args, 4))
	dstLen := int(int32(uint32(arg(args, 5))))

	if srcLen < 0 {
		srcLen = wstrLen(src) + 1 // include the terminator
	}
	if dstLen == 0 {
		return uint64(uint32(srcLen))
	}
	n := srcLen
	if n > dstLen {
		n = dstLen
	}
	for i := 0; i < n; i++ {
		c := getU16(src + uintptr(i)*2)
		switch {
		case flags&mapLower != 0:
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
		case flags&mapUpper != 0:
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
		}
		putU16(dst+uintptr(i)*2, c)
	}
	return uint64(uint32(n))
}

func strcmpFold(a, b string) int32 {
	la, lb := asciiLower(a), asciiLower(b)
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	}
	return 0
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
