package winabi

import (
	"bytes"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// The C runtime table. Most entries are thin ports of their libc
// counterparts operating on raw foreign pointers.

var msvcrt = map[string]Func{
	// memory
	"malloc": {Name: "malloc", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.Alloc(int(arg(args, 0)), false))
	}},
	"calloc": {Name: "calloc", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.Alloc(int(arg(args, 0)*arg(args, 1)), true))
	}},
	"realloc": {Name: "realloc", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		old := uintptr(arg(args, 0))
		size := int(arg(args, 1))
		if old == 0 {
			return uint64(s.Alloc(size, false))
		}
		oldSize := s.AllocSize(old)
		if size <= oldSize {
			return uint64(old)
		}
		fresh := s.Alloc(size, false)
		if fresh != 0 {
			copyMem(fresh, old, oldSize)
			s.Free(old)
		}
		return uint64(fresh)
	}},
	"free": {Name: "free", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		s.Free(uintptr(arg(args, 0)))
		return 0
	}},
	"_msize": {Name: "_msize", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return uint64(s.AllocSize(uintptr(arg(args, 0))))
	}},
	"memcpy": {Name: "memcpy", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		copyMem(uintptr(arg(args, 0)), uintptr(arg(args, 1)), int(arg(args, 2)))
		return arg(args, 0)
	}},
	"memcpy_s": {Name: "memcpy_s", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		if arg(args, 3) > arg(args, 1) {
			return 34 // ERANGE
		}
		copyMem(uintptr(arg(args, 0)), uintptr(arg(args, 2)), int(arg(args, 3)))
		return 0
	}},
	"memmove": {Name: "memmove", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		copyMem(uintptr(arg(args, 0)), uintptr(arg(args, 1)), int(arg(args, 2)))
		return arg(args, 0)
	}},
	"memset": {Name: "memset", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		b := mem(uintptr(arg(args, 0)), int(arg(args, 2)))
		for i := range b {
			b[i] = byte(arg(args, 1))
		}
		return arg(args, 0)
	}},
	"memcmp": {Name: "memcmp", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		n := int(arg(args, 2))
		return i64(int32(bytes.Compare(mem(uintptr(arg(args, 0)), n), mem(uintptr(arg(args, 1)), n))))
	}},
	"memchr": {Name: "memchr", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		base := uintptr(arg(args, 0))
		if i := bytes.IndexByte(mem(base, int(arg(args, 2))), byte(arg(args, 1))); i >= 0 {
			return uint64(base + uintptr(i))
		}
		return 0
	}},

	// narrow strings
	"strlen": {Name: "strlen", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return uint64(cstrLen(uintptr(arg(args, 0))))
	}},
	"strnlen": {Name: "strnlen", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		limit := int(arg(args, 1))
		base := uintptr(arg(args, 0))
		for i := 0; i < limit; i++ {
			if getU8(base+uintptr(i)) == 0 {
				return uint64(i)
			}
		}
		return uint64(limit)
	}},
	"strcmp": {Name: "strcmp", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return i64(int32(strings.Compare(cstr(uintptr(arg(args, 0))), cstr(uintptr(arg(args, 1))))))
	}},
	"strncmp": {Name: "strncmp", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		n := int(arg(args, 2))
		a := truncate(cstr(uintptr(arg(args, 0))), n)
		b := truncate(cstr(uintptr(arg(args, 1))), n)
		return i64(int32(strings.Compare(a, b)))
	}},
	"_stricmp": {Name: "_stricmp", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return i64(strcmpFold(cstr(uintptr(arg(args, 0))), cstr(uintptr(arg(args, 1)))))
	}},
	"_strnicmp": {Name: "_strnicmp", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		n := int(arg(args, 2))
		a := truncate(cstr(uintptr(arg(args, 0))), n)
		b := truncate(cstr(uintptr(arg(args, 1))), n)
		return i64(strcmpFold(a, b))
	}},
	"strcpy_s": {Name: "strcpy_s", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		return copyCString(uintptr(arg(args, 0)), int(arg(args, 1)), cstr(uintptr(arg(args, 2))))
	}},
	"strncpy_s": {Name: "strncpy_s", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		src := truncate(cstr(uintptr(arg(args, 2))), int(arg(args, 3)))
		return copyCString(uintptr(arg(args, 0)), int(arg(args, 1)), src)
	}},
	"strcat_s": {Name: "strcat_s", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		dst := uintptr(arg(args, 0))
		have := cstrLen(dst)
		return copyCString(dst+uintptr(have), int(arg(args, 1))-have, cstr(uintptr(arg(args, 2))))
	}},
	"strchr": {Name: "strchr", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		base := uintptr(arg(args, 0))
		if i := strings.IndexByte(cstr(base), byte(arg(args, 1))); i >= 0 {
			return uint64(base + uintptr(i))
		}
		return 0
	}},
	"strrchr": {Name: "strrchr", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		base := uintptr(arg(args, 0))
		if i := strings.LastIndexByte(cstr(base), byte(arg(args, 1))); i >= 0 {
			return uint64(base + uintptr(i))
		}
		return 0
	}},
	"strstr": {Name: "strstr", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		base := uintptr(arg(args, 0))
		if i := strings.Index(cstr(base), cstr(uintptr(arg(args, 1)))); i >= 0 {
			return uint64(base + uintptr(i))
		}
		return 0
	}},
	"_strdup": {Name: "_strdup", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		src := cstr(uintptr(arg(args, 0)))
		addr := s.Alloc(len(src)+1, true)
		if addr != 0 {
			copy(mem(addr, len(src)), src)
		}
		return uint64(addr)
	}},

	// ctype
	"tolower":   ctype1(func(c int32) int32 { return foldChar(c, 'A', 'Z', 'a'-'A') }),
	"toupper":   ctype1(func(c int32) int32 { return foldChar(c, 'a', 'z', 'A'-'a') }),
	"towlower":  ctype1(func(c int32) int32 { return foldChar(c, 'A', 'Z', 'a'-'A') }),
	"towupper":  ctype1(func(c int32) int32 { return foldChar(c, 'a', 'z', 'A'-'a') }),
	"isalpha":   ctypePred(func(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }),
	"isdigit":   ctypePred(func(c byte) bool { return c >= '0' && c <= '9' }),
	"isalnum":   ctypePred(func(c byte) bool { return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }),
	"isspace":   ctypePred(func(c byte) bool { return c == ' ' || c >= '\t' && c <= '\r' }),
	"isxdigit":  ctypePred(func(c byte) bool { return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' }),
	"isprint":   ctypePred(func(c byte) bool { return c >= 0x20 && c < 0x7F }),
	"__isascii": ctypePred(func(c byte) bool { return c < 0x80 }),

	// formatted output
	"_vsnprintf": {Name: "_vsnprintf", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		text := formatC(cstr(uintptr(arg(args, 2))), vaReader(uintptr(arg(args, 3))))
		return vsnprintf(uintptr(arg(args, 0)), int(arg(args, 1)), text)
	}},
	"sprintf_s": {Name: "sprintf_s", Arity: 8, Fn: func(s *State, args []uint64) uint64 {
		text := formatC(cstr(uintptr(arg(args, 2))), sliceReader(args[3:]))
		return vsnprintf(uintptr(arg(args, 0)), int(arg(args, 1)), text)
	}},
	"_vsnwprintf": {Name: "_vsnwprintf", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("wide formatted output is not supported",
			zap.String("format", wstr(uintptr(arg(args, 2)))))
		return i64(-1)
	}},
	"sscanf_s": {Name: "sscanf_s", Arity: 8, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("formatted input is not supported",
			zap.String("format", cstr(uintptr(arg(args, 1)))))
		return i64(-1)
	}},

	// sorting with a foreign comparator
	"qsort":   {Name: "qsort", Arity: 4, Fn: qsortEntry},
	"bsearch": {Name: "bsearch", Arity: 5, Fn: bsearchEntry},

	// wide strings
	"wcslen": {Name: "wcslen", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return uint64(wstrLen(uintptr(arg(args, 0))))
	}},
	"wcscmp": {Name: "wcscmp", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return i64(int32(strings.Compare(wstr(uintptr(arg(args, 0))), wstr(uintptr(arg(args, 1))))))
	}},
	"_wcsicmp": {Name: "_wcsicmp", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return i64(strcmpFold(wstr(uintptr(arg(args, 0))), wstr(uintptr(arg(args, 1)))))
	}},

	// startup and teardown no-ops
	"_initterm":       {Name: "_initterm", Arity: 2, Fn: initterm},
	"_initterm_e":     {Name: "_initterm_e", Arity: 2, Fn: initterm},
	"_onexit":         {Name: "_onexit", Arity: 1, Fn: func(s *State, args []uint64) uint64 { return arg(args, 0) }},
	"__dllonexit":     {Name: "__dllonexit", Arity: 3, Fn: func(s *State, args []uint64) uint64 { return arg(args, 0) }},
	"_lock":           {Name: "_lock", Arity: 1, Fn: nop},
	"_unlock":         {Name: "_unlock", Arity: 1, Fn: nop},
	"__C_specific_handler": {Name: "__C_specific_handler", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		return 1 // ExceptionContinueSearch
	}},

	// C++ exception machinery: unwinding foreign frames from here is not
	// possible, so throws are reported and dispatch declines
	"_CxxThrowException": {Name: "_CxxThrowException", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("foreign code threw a C++ exception",
			zap.Uint64("object", arg(args, 0)))
		return 0
	}},
	"__CxxFrameHandler3": {Name: "__CxxFrameHandler3", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		return 1 // ExceptionContinueSearch
	}},
	"__unDName": {Name: "__unDName", Arity: 6, Fn: undName},
	"_purecall": {Name: "_purecall", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("pure virtual call in foreign code")
		return 0
	}},
	"_amsg_exit": {Name: "_amsg_exit", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("foreign runtime abort", zap.Int("code", int(arg(args, 0))))
		return 0
	}},
	"_errno": {Name: "_errno", Arity: 0, Fn: func(s *State, args []uint64) uint64 {
		if s.errnoAddr == 0 {
			s.errnoAddr = s.Alloc(4, true)
		}
		return uint64(s.errnoAddr)
	}},

	// math
	"acos":   math1(math.Acos),
	"asin":   math1(math.Asin),
	"atan":   math1(math.Atan),
	"atan2":  math2(math.Atan2),
	"ceil":   math1(math.Ceil),
	"cos":    math1(math.Cos),
	"cosh":   math1(math.Cosh),
	"exp":    math1(math.Exp),
	"floor":  math1(math.Floor),
	"fmod":   math2(math.Mod),
	"log":    math1(math.Log),
	"log10":  math1(math.Log10),
	"pow":    math2(math.Pow),
	"sin":    math1(math.Sin),
	"sinh":   math1(math.Sinh),
	"sqrt":   math1(math.Sqrt),
	"tan":    math1(math.Tan),
	"tanh":   math1(math.Tanh),
	"_hypot": math2(math.Hypot),
}

func i64(v int32) uint64 { return uint64(uint32(v)) }

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// copyCString implements the _s-family contract: fail with ERANGE when
// the destination cannot hold the source plus terminator.
func copyCString(dst uintptr, dstSize int, src string) uint64 {
	if dst == 0 {
		return 22 // EINVAL
	}
	if len(src)+1 > dstSize {
		if dstSize > 0 {
			putU16(dst, 0)
		}
		return 34 // ERANGE
	}
	b := mem(dst, len(src)+1)
	copy(b, src)
	b[len(src)] = 0
	return 0
}

func foldChar(c, lo, hi, delta int32) int32 {
	if c >= lo && c <= hi {
		return c + delta
	}
	return c
}

func ctype1(f func(int32) int32) Func {
	return Func{Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return i64(f(int32(arg(args, 0))))
	}}
}

func ctypePred(f func(byte) bool) Func {
	return Func{Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		c := arg(args, 0)
		return boolRet(c < 0x100 && f(byte(c)))
	}}
}

func math1(f func(float64) float64) Func {
	return Func{Arity: 1, FloatArgs: 0b1, FloatRet: true, Fn: func(s *State, args []uint64) uint64 {
		return math.Float64bits(f(math.Float64frombits(arg(args, 0))))
	}}
}

func math2(f func(a, b float64) float64) Func {
	return Func{Arity: 2, FloatArgs: 0b11, FloatRet: true, Fn: func(s *State, args []uint64) uint64 {
		return math.Float64bits(f(math.Float64frombits(arg(args, 0)), math.Float64frombits(arg(args, 1))))
	}}
}

// qsortEntry sorts the array in place, routing comparisons through the
// foreign comparator. Elements are staged in two scratch slots so the
// comparator sees stable addresses for the duration of each call.
func qsortEntry(s *State, args []uint64) uint64 {
	base := uintptr(arg(args, 0))
	num := int(arg(args, 1))
	size := int(arg(args, 2))
	cmp := uintptr(arg(args, 3))
	if base == 0 || num < 2 || size <= 0 {
		return 0
	}
	if s.CallForeign == nil {
		s.logger.Warn("qsort skipped, no foreign call hook installed")
		return 0
	}

	elems := make([][]byte, num)
	for i := range elems {
		elems[i] = append([]byte(nil), mem(base+uintptr(i*size), size)...)
	}
	a := s.Alloc(size, false)
	b := s.Alloc(size, false)
	sort.SliceStable(elems, func(i, j int) bool {
		copy(mem(a, size), elems[i])
		copy(mem(b, size), elems[j])
		return int32(s.CallForeign(cmp, uint64(a), uint64(b))) < 0
	})
	s.Free(a)
	s.Free(b)
	for i, e := range elems {
		copy(mem(base+uintptr(i*size), size), e)
	}
	return 0
}

// bsearchEntry follows the C contract: the comparator gets the key
// first and an in-place element second, and the array must already be
// ordered by that comparator.
func bsearchEntry(s *State, args []uint64) uint64 {
	key := arg(args, 0)
	base := uintptr(arg(args, 1))
	num := int(arg(args, 2))
	size := int(arg(args, 3))
	cmp := uintptr(arg(args, 4))
	if base == 0 || num <= 0 || size <= 0 || s.CallForeign == nil {
		return 0
	}
	lo, hi := 0, num
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		addr := base + uintptr(mid*size)
		r := int32(s.CallForeign(cmp, key, uint64(addr)))
		switch {
		case r == 0:
			return uint64(addr)
		case r < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return 0
}

// undName hands mangled names back untouched: diagnostics show the raw
// symbol, which is enough to identify it.
func undName(s *State, args []uint64) uint64 {
	buffer := uintptr(arg(args, 0))
	name := cstr(uintptr(arg(args, 1)))
	if buffer == 0 {
		addr := s.Alloc(len(name)+1, true)
		if addr != 0 {
			copy(mem(addr, len(name)), name)
		}
		return uint64(addr)
	}
	copyCString(buffer, int(arg(args, 2)), name)
	return uint64(buffer)
}

// initterm walks a (first, last) table of optional initializer function
// pointers and invokes each through the bridge's foreign-call hook.
func initterm(s *State, args []uint64) uint64 {
	first := uintptr(arg(args, 0))
	last := uintptr(arg(args, 1))
	for p := first; p < last; p += 8 {
		fn := uintptr(getU64(p))
		if fn == 0 {
			continue
		}
		if s.CallForeign == nil {
			s.logger.Warn("skipping foreign static initializer, no call hook installed",
				zap.Uint64("address", uint64(fn)))
			continue
		}
		s.CallForeign(fn)
	}
	return 0
}
