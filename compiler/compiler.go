// Package compiler fronts the foreign shader compiler library with a
// plain Go API. It owns nothing about the container format; compiled
// bytecode comes back as opaque bytes that the dxbc package can decode.
package compiler

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/dxbc-bridge/bridge"
	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/winabi"
)

// Compiler wraps one loaded instance of the foreign compiler library.
// Construction is cheap and never touches the library file; the first
// Compile or Preprocess call loads it, so a missing library surfaces
// there and not at construction.
type Compiler struct {
	path   string
	logger *zap.Logger

	once    sync.Once
	openErr error
	bridge  *bridge.Bridge

	compileAddr    uintptr
	preprocessAddr uintptr

	// mu serializes compile calls so the include handler active during
	// a foreign call is unambiguous.
	mu      sync.Mutex
	include IncludeHandler
	incObj  uintptr
}

// New prepares a compiler over the library at path. The library is not
// opened until the first call that needs it.
func New(path string, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{path: path, logger: logger}
}

func (c *Compiler) ensure() error {
	c.once.Do(func() {
		b, err := bridge.Open(c.path, c.logger)
		if err != nil {
			c.openErr = err
			return
		}
		if c.openErr = c.bind(b); c.openErr != nil {
			b.Close()
			return
		}
		c.bridge = b
	})
	return c.openErr
}

// bind resolves the entry points and mints the include handler object
// the foreign compiler calls back into.
func (c *Compiler) bind(b *bridge.Bridge) error {
	var err error
	if c.compileAddr, err = b.Export("D3DCompile"); err != nil {
		return err
	}
	if c.preprocessAddr, err = b.Export("D3DPreprocess"); err != nil {
		return err
	}

	openStub, err := b.MintEntry(winabi.Func{Name: "include.Open", Arity: 6, Fn: c.includeOpen})
	if err != nil {
		return err
	}
	closeStub, err := b.MintEntry(winabi.Func{Name: "include.Close", Arity: 2, Fn: c.includeClose})
	if err != nil {
		return err
	}

	// The include object lives as long as the bridge: one pointer to a
	// two-slot virtual table.
	f := b.NewFrame()
	vtbl := f.Pointers([]uintptr{openStub, closeStub})
	c.incObj = f.Pointers([]uintptr{vtbl})
	if c.incObj == 0 {
		return errors.New(errors.PhaseLoad, errors.KindForeignCall).
			Detail("include object allocation failed").Build()
	}
	return nil
}

// includeOpen services a foreign Open(this, type, filename, parentData,
// ppData, pBytes) call by delegating to the active handler.
func (c *Compiler) includeOpen(s *winabi.State, a []uint64) uint64 {
	h := c.include
	if h == nil {
		return hrBits(bridge.EFail)
	}
	name := s.ReadCString(uintptr(a[2]))
	data, err := h.Open(IncludeType(uint32(a[1])), name)
	if err != nil {
		c.logger.Warn("include open failed", zap.String("file", name), zap.Error(err))
		return hrBits(bridge.EFail)
	}
	buf := s.Alloc(len(data)+1, true)
	if buf == 0 {
		return hrBits(bridge.EOutOfMemory)
	}
	s.WriteBytes(buf, data)
	s.WriteU64(uintptr(a[4]), uint64(buf))
	s.WriteU32(uintptr(a[5]), uint32(len(data)))
	return hrBits(bridge.SOK)
}

// includeClose services Close(this, pData).
func (c *Compiler) includeClose(s *winabi.State, a []uint64) uint64 {
	s.Free(uintptr(a[1]))
	return hrBits(bridge.SOK)
}

func hrBits(hr bridge.HRESULT) uint64 {
	return uint64(uint32(hr))
}

// Compile runs the foreign compiler over HLSL source. On success it
// returns the compiled bytecode and any warning text; on a compile
// failure the error carries the foreign diagnostics verbatim.
func (c *Compiler) Compile(source []byte, entry string, target Target, opts Options) (*bridge.Blob, string, error) {
	if err := c.ensure(); err != nil {
		return nil, "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bridge == nil {
		return nil, "", errors.BridgeClosed()
	}
	c.include = opts.Include
	defer func() { c.include = nil }()

	f := c.bridge.NewFrame()
	defer f.Release()

	var inc uintptr
	if opts.Include != nil {
		inc = c.incObj
	}
	codeOut := f.OutPtr()
	diagOut := f.OutPtr()

	ret, err := c.bridge.Invoke(c.compileAddr,
		uint64(f.Bytes(source)), uint64(len(source)),
		uint64(f.CString(opts.sourceName())),
		uint64(marshalDefines(f, opts.Defines)),
		uint64(inc),
		uint64(f.CString(entry)), uint64(f.CString(string(target))),
		uint64(opts.Flags), 0,
		uint64(codeOut), uint64(diagOut))
	if err != nil {
		return nil, "", err
	}

	diagnostics, err := c.unwrapText(f.Deref(diagOut))
	if err != nil {
		return nil, "", err
	}
	if hr := bridge.HRESULT(int32(uint32(ret))); hr.Failed() {
		// a failed call can still hand back a code object
		if obj := f.Deref(codeOut); obj != 0 {
			c.bridge.UnwrapBlob(obj)
		}
		return nil, diagnostics, errors.Compile(int32(hr), diagnostics)
	}

	code, err := c.bridge.UnwrapBlob(f.Deref(codeOut))
	if err != nil {
		return nil, diagnostics, err
	}
	c.logger.Debug("compiled",
		zap.String("entry", entry),
		zap.String("target", string(target)),
		zap.Int("bytes", code.Len()))
	return code, diagnostics, nil
}

// Preprocess runs only the preprocessor and returns the expanded
// source text.
func (c *Compiler) Preprocess(source []byte, opts Options) (string, string, error) {
	if err := c.ensure(); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bridge == nil {
		return "", "", errors.BridgeClosed()
	}
	c.include = opts.Include
	defer func() { c.include = nil }()

	f := c.bridge.NewFrame()
	defer f.Release()

	var inc uintptr
	if opts.Include != nil {
		inc = c.incObj
	}
	textOut := f.OutPtr()
	diagOut := f.OutPtr()

	ret, err := c.bridge.Invoke(c.preprocessAddr,
		uint64(f.Bytes(source)), uint64(len(source)),
		uint64(f.CString(opts.sourceName())),
		uint64(marshalDefines(f, opts.Defines)),
		uint64(inc),
		uint64(textOut), uint64(diagOut))
	if err != nil {
		return "", "", err
	}

	diagnostics, err := c.unwrapText(f.Deref(diagOut))
	if err != nil {
		return "", "", err
	}
	if hr := bridge.HRESULT(int32(uint32(ret))); hr.Failed() {
		if obj := f.Deref(textOut); obj != 0 {
			c.bridge.UnwrapBlob(obj)
		}
		return "", diagnostics, errors.Compile(int32(hr), diagnostics)
	}

	text, err := c.unwrapText(f.Deref(textOut))
	if err != nil {
		return "", diagnostics, err
	}
	return text, diagnostics, nil
}

func (c *Compiler) unwrapText(obj uintptr) (string, error) {
	blob, err := c.bridge.UnwrapBlob(obj)
	if err != nil {
		return "", err
	}
	return blob.String(), nil
}

// marshalDefines lays out the macro table the foreign compiler expects:
// name/value pointer pairs terminated by a null pair, in deterministic
// order.
func marshalDefines(f *bridge.Frame, defines map[string]string) uintptr {
	if len(defines) == 0 {
		return 0
	}
	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	sort.Strings(names)

	vals := make([]uintptr, 0, 2*len(names)+2)
	for _, name := range names {
		vals = append(vals, f.CString(name), f.CString(defines[name]))
	}
	vals = append(vals, 0, 0)
	return f.Pointers(vals)
}

// Close releases the loaded library. A compiler that never compiled
// anything has nothing to release.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bridge == nil {
		return nil
	}
	err := c.bridge.Close()
	c.bridge = nil
	return err
}
