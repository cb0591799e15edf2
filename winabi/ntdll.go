package winabi

// Stack-unwind support stubs. The compiler registers exception handling
// at startup but never unwinds on the success paths we drive it down, so
// these only need to exist.
var ntdll = map[string]Func{
	"RtlCaptureContext": {Name: "RtlCaptureContext", Arity: 1, Fn: nop},
	"RtlLookupFunctionEntry": {Name: "RtlLookupFunctionEntry", Arity: 3, Fn: func(s *State, args []uint64) uint64 {
		return 0 // no function table entry
	}},
	"RtlVirtualUnwind": {Name: "RtlVirtualUnwind", Arity: 8, Fn: func(s *State, args []uint64) uint64 {
		return 0
	}},
	"RtlUnwindEx": {Name: "RtlUnwindEx", Arity: 6, Fn: func(s *State, args []uint64) uint64 {
		s.logger.Error("foreign code attempted a stack unwind")
		return 0
	}},
	"RtlPcToFileHeader": {Name: "RtlPcToFileHeader", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		putU64(uintptr(arg(args, 1)), 0)
		return 0
	}},
}
