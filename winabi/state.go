package winabi

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/dxbc-bridge/errors"
)

// arenaSize is the reserve for the emulated heap. Pages are committed
// lazily by the kernel, so a generous reserve costs address space only.
const arenaSize = 512 << 20

const allocAlign = 16

// State holds every piece of mutable runtime state the emulated entry
// points touch. It is owned by the bridge and guarded by the bridge's
// foreign-call lock, so individual entry points do not lock.
type State struct {
	logger *zap.Logger

	// CallForeign re-enters foreign code on behalf of an emulated entry
	// point, e.g. CRT static initializers. Installed by the bridge.
	CallForeign func(entry uintptr, args ...uint64) uint64

	arena     []byte
	arenaOff  int
	allocs    map[uintptr]int
	errnoAddr uintptr

	tls     map[uint32]uintptr
	nextTLS uint32

	lastError uint32

	handles    map[uintptr]*os.File
	nextHandle uintptr

	mappings map[uintptr]fileMapping
	views    map[uintptr][]byte

	hashes    map[uintptr]*hashContext
	nextHash  uintptr
	startTime time.Time

	mu sync.Mutex // protects callers outside the bridge lock, e.g. Close
}

// NewState maps the heap arena and initializes the slot tables.
func NewState(logger *zap.Logger) (*State, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	arena, err := unix.Mmap(-1, 0, arenaSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindImageFormat).
			Cause(err).
			Detail("mapping %d MiB heap arena", arenaSize>>20).
			Build()
	}
	return &State{
		logger:     logger,
		arena:      arena,
		allocs:     make(map[uintptr]int),
		tls:        make(map[uint32]uintptr),
		handles:    make(map[uintptr]*os.File),
		nextHandle: 0x1000,
		mappings:   make(map[uintptr]fileMapping),
		views:      make(map[uintptr][]byte),
		hashes:     make(map[uintptr]*hashContext),
		nextHash:   0x2000,
		startTime:  time.Now(),
	}, nil
}

// Close releases the heap arena and any open file handles.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arena == nil {
		return nil
	}
	for _, f := range s.handles {
		f.Close()
	}
	s.handles = nil
	for _, v := range s.views {
		unix.Munmap(v)
	}
	s.views = nil
	err := unix.Munmap(s.arena)
	s.arena = nil
	return err
}

// Alloc carves a block out of the arena. The emulated heap is a bump
// allocator: Free only forgets the block, the compiler's allocation
// pattern never needs real reuse within one process lifetime.
func (s *State) Alloc(size int, zero bool) uintptr {
	if size <= 0 {
		size = 1
	}
	size = (size + allocAlign - 1) &^ (allocAlign - 1)
	if s.arenaOff+size > len(s.arena) {
		s.logger.Error("emulated heap exhausted",
			zap.Int("requested", size),
			zap.Int("used", s.arenaOff))
		return 0
	}
	block := s.arena[s.arenaOff : s.arenaOff+size]
	s.arenaOff += size
	addr := sliceAddr(block)
	s.allocs[addr] = size
	if zero {
		clear(block)
	}
	return addr
}

// Free releases a block. Freeing an address the heap never handed out is
// ignored, matching the tolerance of the real heap API.
func (s *State) Free(addr uintptr) {
	delete(s.allocs, addr)
}

// AllocSize reports the size recorded for a heap block, or 0.
func (s *State) AllocSize(addr uintptr) int {
	return s.allocs[addr]
}

// LastError returns the emulated thread's last-error value.
func (s *State) LastError() uint32 { return s.lastError }

// SetLastError sets the emulated thread's last-error value.
func (s *State) SetLastError(code uint32) { s.lastError = code }

func (s *State) tlsAlloc() uint32 {
	idx := s.nextTLS
	s.nextTLS++
	s.tls[idx] = 0
	return idx
}

func (s *State) tlsFree(idx uint32) bool {
	if _, ok := s.tls[idx]; !ok {
		return false
	}
	delete(s.tls, idx)
	return true
}

func (s *State) tlsGet(idx uint32) uintptr {
	v, ok := s.tls[idx]
	if !ok {
		s.lastError = errInvalidParameter
		return 0
	}
	s.lastError = 0
	return v
}

func (s *State) tlsSet(idx uint32, v uintptr) bool {
	if _, ok := s.tls[idx]; !ok {
		return false
	}
	s.tls[idx] = v
	return true
}

func (s *State) newHandle(f *os.File) uintptr {
	h := s.nextHandle
	s.nextHandle += 4
	s.handles[h] = f
	return h
}

func (s *State) file(h uintptr) *os.File {
	return s.handles[h]
}

// fileMapping is a CreateFileMapping object awaiting MapViewOfFile.
type fileMapping struct {
	f    *os.File
	size uint64
}

func (s *State) newMapping(f *os.File, size uint64) uintptr {
	h := s.nextHandle
	s.nextHandle += 4
	s.mappings[h] = fileMapping{f: f, size: size}
	return h
}

func (s *State) closeHandle(h uintptr) bool {
	if _, ok := s.mappings[h]; ok {
		delete(s.mappings, h)
		return true
	}
	f, ok := s.handles[h]
	if !ok {
		return false
	}
	delete(s.handles, h)
	if f != nil {
		f.Close()
	}
	return true
}
