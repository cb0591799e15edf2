// Package bridge owns every transition between host code and the loaded
// foreign library: calling-convention translation, the single lock that
// serializes entry into foreign code, marshalling frames, and unwrapping
// of the reference-counted blob objects the compiler returns.
package bridge

import (
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/loader"
	"github.com/wippyai/dxbc-bridge/winabi"
)

const dllProcessAttach = 1

type thunkKey struct {
	entry uintptr
	arity int
}

// Bridge is a loaded foreign library plus the machinery to call into
// it. All foreign entry is serialized by one mutex: the library's own
// thread safety is unknown and the emulator state is shared.
type Bridge struct {
	mu     sync.Mutex
	logger *zap.Logger

	state    *winabi.State
	image    *loader.Image
	thunks   thunkArena
	outbound map[thunkKey]uintptr
	closed   bool

	// threadSetup prepares the calling OS thread for foreign code.
	// Tests substitute a failing hook.
	threadSetup func() error
}

// Open loads the library at path, binds its imports against a fresh
// emulator state, and runs the library's attach entry point. Any
// failure tears the partial bridge down; there is no half-open state.
func Open(path string, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	state, err := winabi.NewState(logger)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		logger:      logger,
		state:       state,
		outbound:    make(map[thunkKey]uintptr),
		threadSetup: ensureTIB,
	}
	// emulated entry points that re-enter foreign code have no error
	// channel back to their foreign caller, so failures are logged
	state.CallForeign = func(entry uintptr, args ...uint64) uint64 {
		ret, err := b.call(entry, args...)
		if err != nil {
			logger.Error("nested foreign call failed", zap.Error(err))
			return 0
		}
		return ret
	}

	resolver := winabi.NewResolver(state, b, logger)
	image, err := loader.LoadFile(path, resolver, logger)
	if err != nil {
		b.teardown()
		return nil, err
	}
	b.image = image

	if entry := image.Entry(); entry != 0 {
		ok, err := b.call(entry, uint64(image.Base()), dllProcessAttach, 0)
		if err != nil {
			b.teardown()
			return nil, err
		}
		if ok == 0 {
			b.teardown()
			return nil, errors.New(errors.PhaseLoad, errors.KindForeignCall).
				Detail("library attach entry point returned failure").Build()
		}
	}

	logger.Info("bridge open", zap.String("library", path))
	return b, nil
}

// Mint implements the emulator's thunk minting: a Go entry point gets a
// host-convention callback, wrapped in a foreign-convention stub the
// library can call through its import table.
func (b *Bridge) Mint(s *winabi.State, fn winabi.Func) (uintptr, error) {
	f := fn
	cb := purego.NewCallback(func(a0, a1, a2, a3, a4, a5, a6, a7 uintptr) uintptr {
		all := [8]uint64{
			uint64(a0), uint64(a1), uint64(a2), uint64(a3),
			uint64(a4), uint64(a5), uint64(a6), uint64(a7),
		}
		n := f.Arity
		if n > len(all) {
			n = len(all)
		}
		return uintptr(f.Fn(s, all[:n]))
	})
	return b.thunks.place(foreignToHost(cb, f))
}

// MintEntry mints a foreign-callable address for an ad hoc entry point,
// e.g. an include handler object's methods.
func (b *Bridge) MintEntry(fn winabi.Func) (uintptr, error) {
	return b.Mint(b.state, fn)
}

// Invoke calls foreign code at entry with the given integer arguments
// under the bridge lock.
func (b *Bridge) Invoke(entry uintptr, args ...uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.BridgeClosed()
	}
	return b.call(entry, args...)
}

// call performs the raw foreign transition. It does not take the bridge
// lock: it is either reached from Invoke, which holds it, or re-entered
// from an emulated entry point while foreign code is already running
// under it. Setup failures must surface as errors, never as a zero
// return value, because zero is also a success status.
func (b *Bridge) call(entry uintptr, args ...uint64) (uint64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := b.threadSetup(); err != nil {
		return 0, errors.New(errors.PhaseInvoke, errors.KindForeignCall).
			Cause(err).Detail("thread setup failed").Build()
	}

	stub, err := b.outboundThunk(entry, len(args))
	if err != nil {
		return 0, errors.New(errors.PhaseInvoke, errors.KindForeignCall).
			Cause(err).Detail("thunk generation failed").Build()
	}

	uargs := make([]uintptr, len(args))
	for i, a := range args {
		uargs[i] = uintptr(a)
	}
	r1, _, _ := purego.SyscallN(stub, uargs...)
	return uint64(r1), nil
}

func (b *Bridge) outboundThunk(entry uintptr, arity int) (uintptr, error) {
	key := thunkKey{entry: entry, arity: arity}
	if stub, ok := b.outbound[key]; ok {
		return stub, nil
	}
	stub, err := b.thunks.place(hostToForeign(entry, arity))
	if err != nil {
		return 0, err
	}
	b.outbound[key] = stub
	return stub, nil
}

// Export resolves a named entry point of the loaded library.
func (b *Bridge) Export(name string) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.BridgeClosed()
	}
	addr, ok := b.image.Export(name)
	if !ok {
		return 0, errors.UnresolvedImport("d3dcompiler_47.dll", name)
	}
	return addr, nil
}

// Close tears down the emulator state, the thunk pages, and the image
// mapping. Further calls fail with a closed-bridge error.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.teardown()
	b.logger.Info("bridge closed")
	return nil
}

func (b *Bridge) teardown() {
	if b.image != nil {
		b.image.Close()
		b.image = nil
	}
	b.thunks.release()
	if b.state != nil {
		b.state.Close()
		b.state = nil
	}
}
