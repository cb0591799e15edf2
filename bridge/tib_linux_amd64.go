package bridge

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wippyai/dxbc-bridge/errors"
)

// Foreign code addresses its thread information block through the GS
// segment. ensureTIB points GS at a per-thread block before any foreign
// call; without it the library faults on its first gs-relative load.
//
// Block layout (the fields the compiler actually reads):
//
//	0x08  stack base
//	0x10  stack limit
//	0x30  self pointer
//	0x40  process id
//	0x48  thread id

const archSetGS = 0x1001

const (
	tibStackBase = 0x08
	tibStackLim  = 0x10
	tibSelf      = 0x30
	tibPID       = 0x40
	tibTID       = 0x48
)

var tibs struct {
	sync.Mutex
	ready map[int]bool
}

// ensureTIB installs a thread information block for the calling OS
// thread. The caller must have the thread locked.
func ensureTIB() error {
	tid := unix.Gettid()

	tibs.Lock()
	defer tibs.Unlock()
	if tibs.ready[tid] {
		return nil
	}

	block, err := unix.Mmap(-1, 0, 4096,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return errors.New(errors.PhaseLoad, errors.KindImageFormat).
			Cause(err).Detail("mapping thread information block").Build()
	}
	base := sliceAddr(block)

	// the library only sanity-checks the stack bounds, rough estimates
	// around the current stack pointer are enough
	var probe int
	sp := uintptr(unsafe.Pointer(&probe))
	put := func(off uintptr, v uint64) {
		*(*uint64)(unsafe.Pointer(base + off)) = v
	}
	put(tibStackBase, uint64((sp+0x800000)&^0xFFF))
	put(tibStackLim, uint64((sp-0x800000)&^0xFFF))
	put(tibSelf, uint64(base))
	put(tibPID, uint64(os.Getpid()))
	put(tibTID, uint64(tid))

	if _, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, archSetGS, base, 0); errno != 0 {
		unix.Munmap(block)
		return errors.New(errors.PhaseLoad, errors.KindImageFormat).
			Cause(errno).Detail("setting GS base").Build()
	}

	if tibs.ready == nil {
		tibs.ready = make(map[int]bool)
	}
	tibs.ready[tid] = true
	return nil
}
