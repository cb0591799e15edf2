package winabi

import (
	"crypto/sha1"
)

const (
	errNoMoreItems = 259
	hpHashVal      = 2
	hpHashSize     = 4
)

// hashContext accumulates CryptHashData input. The compiler hashes its
// containers through the CryptoAPI when asked to sign them.
type hashContext struct {
	data []byte
}

// Registry queries all report absence; the compiler falls back to its
// built-in defaults. Crypt* implements just enough of a SHA-1 provider.
var advapi32 = map[string]Func{
	"RegOpenKeyExA": {Name: "RegOpenKeyExA", Arity: 5, Fn: func(s *State, args []uint64) uint64 {
		return errFileNotFound
	}},
	"RegOpenKeyExW": {Name: "RegOpenKeyExW", Arity: 5, Fn: func(s *State, args []uint64) uint64 {
		return errFileNotFound
	}},
	"RegQueryValueExA": {Name: "RegQueryValueExA", Arity: 6, Fn: func(s *State, args []uint64) uint64 {
		return errFileNotFound
	}},
	"RegQueryValueExW": {Name: "RegQueryValueExW", Arity: 6, Fn: func(s *State, args []uint64) uint64 {
		return errFileNotFound
	}},
	"RegEnumKeyExA": {Name: "RegEnumKeyExA", Arity: 8, Fn: func(s *State, args []uint64) uint64 {
		return errNoMoreItems
	}},
	"RegCloseKey": {Name: "RegCloseKey", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		return 0
	}},

	"CryptAcquireContextW": {Name: "CryptAcquireContextW", Arity: 5, Fn: func(s *State, args []uint64) uint64 {
		putU64(uintptr(arg(args, 0)), 0x1000)
		return 1
	}},
	"CryptReleaseContext": {Name: "CryptReleaseContext", Arity: 2, Fn: func(s *State, args []uint64) uint64 {
		return 1
	}},
	"CryptCreateHash": {Name: "CryptCreateHash", Arity: 5, Fn: func(s *State, args []uint64) uint64 {
		h := s.nextHash
		s.nextHash++
		s.hashes[h] = &hashContext{}
		putU64(uintptr(arg(args, 4)), uint64(h))
		return 1
	}},
	"CryptDestroyHash": {Name: "CryptDestroyHash", Arity: 1, Fn: func(s *State, args []uint64) uint64 {
		delete(s.hashes, uintptr(arg(args, 0)))
		return 1
	}},
	"CryptHashData": {Name: "CryptHashData", Arity: 4, Fn: func(s *State, args []uint64) uint64 {
		ctx, ok := s.hashes[uintptr(arg(args, 0))]
		if !ok {
			return 0
		}
		ctx.data = append(ctx.data, mem(uintptr(arg(args, 1)), int(uint32(arg(args, 2))))...)
		return 1
	}},
	"CryptGetHashParam": {Name: "CryptGetHashParam", Arity: 5, Fn: cryptGetHashParam},
}

func cryptGetHashParam(s *State, args []uint64) uint64 {
	ctx, ok := s.hashes[uintptr(arg(args, 0))]
	if !ok {
		return 0
	}
	out := uintptr(arg(args, 2))
	lenPtr := uintptr(arg(args, 3))

	switch uint32(arg(args, 1)) {
	case hpHashVal:
		sum := sha1.Sum(ctx.data)
		if int(getU32(lenPtr)) < len(sum) {
			putU32(lenPtr, uint32(len(sum)))
			return 0
		}
		copy(mem(out, len(sum)), sum[:])
		putU32(lenPtr, uint32(len(sum)))
		return 1
	case hpHashSize:
		if getU32(lenPtr) < 4 {
			return 0
		}
		putU32(out, sha1.Size)
		putU32(lenPtr, 4)
		return 1
	}
	return 0
}
