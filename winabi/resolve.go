package winabi

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/dxbc-bridge/errors"
)

// Func is one emulated entry point. Arity is the number of arguments the
// foreign caller passes; the bridge's thunk layer uses it to size the
// adapter that collects them. FloatArgs marks which of the first four
// arguments arrive in XMM registers instead of integer registers, and
// FloatRet marks a result returned in XMM0; both use raw float64 bits in
// the uint64 slots.
type Func struct {
	Name      string
	Arity     int
	FloatArgs uint8 // bit i set: argument i is floating point
	FloatRet  bool
	Fn        func(s *State, args []uint64) uint64
}

// Minter turns an emulated entry point into a machine-callable address
// obeying the foreign calling convention. Implemented by the bridge;
// tests substitute a recorder.
type Minter interface {
	Mint(s *State, fn Func) (uintptr, error)
}

// Resolver binds (module, symbol) import pairs to minted addresses.
// It satisfies the loader's import resolver contract.
type Resolver struct {
	state  *State
	minter Minter
	logger *zap.Logger
	cache  map[string]uintptr
}

// NewResolver creates a resolver over the given runtime state.
func NewResolver(state *State, minter Minter, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		state:  state,
		minter: minter,
		logger: logger,
		cache:  make(map[string]uintptr),
	}
}

// Resolve returns a callable address for the import, minting a thunk on
// first use. Unknown pairs fail with an error naming module and symbol,
// which is the signal that the emulation table needs a new entry.
func (r *Resolver) Resolve(module, symbol string) (uintptr, error) {
	table, ok := tables[normalizeModule(module)]
	if !ok {
		return 0, errors.UnresolvedImport(module, symbol)
	}
	fn, ok := table[symbol]
	if !ok {
		return 0, errors.UnresolvedImport(module, symbol)
	}

	key := normalizeModule(module) + "!" + symbol
	if addr, ok := r.cache[key]; ok {
		return addr, nil
	}
	addr, err := r.minter.Mint(r.state, fn)
	if err != nil {
		return 0, err
	}
	r.cache[key] = addr
	r.logger.Debug("bound import",
		zap.String("module", module),
		zap.String("symbol", symbol),
		zap.Uint64("address", uint64(addr)))
	return addr, nil
}

// Known reports whether the emulation table covers an import pair,
// without minting anything.
func Known(module, symbol string) bool {
	table, ok := tables[normalizeModule(module)]
	if !ok {
		return false
	}
	_, ok = table[symbol]
	return ok
}

var tables = map[string]map[string]Func{
	"kernel32": kernel32,
	"msvcrt":   msvcrt,
	"ntdll":    ntdll,
	"advapi32": advapi32,
	"rpcrt4":   rpcrt4,
}

// normalizeModule folds the API-set facade names and the versioned CRT
// DLL names onto the tables above.
func normalizeModule(module string) string {
	m := strings.ToLower(module)
	m = strings.TrimSuffix(m, ".dll")

	switch {
	case strings.HasPrefix(m, "api-ms-win-crt-"),
		strings.HasPrefix(m, "msvcr"),
		m == "ucrtbase", m == "vcruntime140":
		return "msvcrt"
	case strings.HasPrefix(m, "api-ms-win-core-registry"),
		strings.HasPrefix(m, "api-ms-win-security"):
		return "advapi32"
	case strings.HasPrefix(m, "api-ms-win-core-"):
		return "kernel32"
	}
	return m
}
