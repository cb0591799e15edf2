package winabi

import "crypto/rand"

// The RPC runtime table. The compiler imports exactly one symbol from
// it, used to stamp outputs with a fresh identifier.
var rpcrt4 = map[string]Func{
	"UuidCreate": {Name: "UuidCreate", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		out := mem(uintptr(arg(args, 0)), 16)
		if out == nil {
			return errInvalidParameter // RPC_S_INVALID_ARG
		}
		rand.Read(out)
		out[6] = out[6]&0x0F | 0x40 // version 4
		out[8] = out[8]&0x3F | 0x80 // RFC 4122 variant
		return 0 // RPC_S_OK
	}},
}
