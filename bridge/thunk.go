package bridge

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/winabi"
)

func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// The two calling conventions disagree on argument registers and stack
// layout. Outbound calls (host into the library) and inbound calls (the
// library into an emulated entry point) each go through a small
// generated stub that shuffles registers, maintains the foreign
// convention's 32-byte shadow space, and keeps the stack 16-byte
// aligned at the call site.
//
//   foreign convention: args in RCX RDX R8 R9, then stack after shadow
//   host convention:    args in RDI RSI RDX RCX R8 R9, then stack
//
// Stubs are written into a read-write page that is flipped to
// read-execute after each batch of writes, so no page stays writable
// and executable at once.

const thunkPageSize = 4096

type thunkArena struct {
	pages  [][]byte
	off    int
	sealed bool
}

func (a *thunkArena) place(code []byte) (uintptr, error) {
	if len(code) > thunkPageSize {
		return 0, errors.InvalidInput(errors.PhaseLoad, "thunk of %d bytes exceeds a page", len(code))
	}
	cur := len(a.pages) - 1
	if cur < 0 || a.off+len(code) > thunkPageSize {
		page, err := unix.Mmap(-1, 0, thunkPageSize,
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return 0, errors.New(errors.PhaseLoad, errors.KindImageFormat).
				Cause(err).Detail("mapping thunk page").Build()
		}
		a.pages = append(a.pages, page)
		a.off = 0
		a.sealed = false
		cur = len(a.pages) - 1
	}

	page := a.pages[cur]
	if a.sealed {
		if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return 0, errors.New(errors.PhaseLoad, errors.KindImageFormat).
				Cause(err).Detail("unsealing thunk page").Build()
		}
	}
	copy(page[a.off:], code)
	addr := sliceAddr(page) + uintptr(a.off)
	a.off += (len(code) + 15) &^ 15

	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return 0, errors.New(errors.PhaseLoad, errors.KindImageFormat).
			Cause(err).Detail("sealing thunk page").Build()
	}
	a.sealed = true
	return addr, nil
}

func (a *thunkArena) release() {
	for _, p := range a.pages {
		unix.Munmap(p)
	}
	a.pages = nil
}

type asm struct{ buf []byte }

func (c *asm) op(b ...byte) { c.buf = append(c.buf, b...) }

func (c *asm) u32(v uint32) {
	c.op(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (c *asm) u64(v uint64) {
	c.u32(uint32(v))
	c.u32(uint32(v >> 32))
}

// hostToForeign emits a stub with a host-convention entry that forwards
// up to arity integer arguments to a foreign-convention target.
func hostToForeign(target uintptr, arity int) []byte {
	var c asm
	c.op(0x55)             // push rbp
	c.op(0x48, 0x89, 0xE5) // mov rbp, rsp

	frame := 0x20 // shadow space
	if arity > 4 {
		frame += 8 * (arity - 4)
	}
	frame = (frame + 15) &^ 15
	c.op(0x48, 0x81, 0xEC) // sub rsp, frame
	c.u32(uint32(frame))

	// spill arguments 4+ to the foreign stack area before the register
	// shuffle clobbers their sources
	for i := 4; i < arity; i++ {
		dst := byte(0x20 + (i-4)*8)
		switch i {
		case 4:
			c.op(0x4C, 0x89, 0x44, 0x24, dst) // mov [rsp+dst], r8
		case 5:
			c.op(0x4C, 0x89, 0x4C, 0x24, dst) // mov [rsp+dst], r9
		default:
			src := byte(0x10 + (i-6)*8)
			c.op(0x48, 0x8B, 0x45, src)       // mov rax, [rbp+src]
			c.op(0x48, 0x89, 0x44, 0x24, dst) // mov [rsp+dst], rax
		}
	}

	if arity > 3 {
		c.op(0x49, 0x89, 0xC9) // mov r9, rcx
	}
	if arity > 2 {
		c.op(0x49, 0x89, 0xD0) // mov r8, rdx
	}
	if arity > 1 {
		c.op(0x48, 0x89, 0xF2) // mov rdx, rsi
	}
	if arity > 0 {
		c.op(0x48, 0x89, 0xF9) // mov rcx, rdi
	}

	c.op(0x48, 0xB8) // movabs rax, target
	c.u64(uint64(target))
	c.op(0xFF, 0xD0)       // call rax
	c.op(0x48, 0x89, 0xEC) // mov rsp, rbp
	c.op(0x5D)             // pop rbp
	c.op(0xC3)             // ret
	return c.buf
}

// foreignToHost emits a stub with a foreign-convention entry that
// forwards to a host-convention target, typically a minted Go callback.
// RSI and RDI are preserved because the foreign caller expects it.
// Floating point arguments named by fn.FloatArgs are moved out of XMM
// registers into the integer slots the host target reads; a FloatRet
// result is moved back into XMM0.
func foreignToHost(target uintptr, fn winabi.Func) []byte {
	var c asm
	c.op(0x55)             // push rbp
	c.op(0x48, 0x89, 0xE5) // mov rbp, rsp
	c.op(0x57)             // push rdi
	c.op(0x56)             // push rsi

	arity := fn.Arity
	frame := 0
	if arity > 6 {
		frame = ((arity-6)*8 + 15) &^ 15
	}
	if frame > 0 {
		c.op(0x48, 0x81, 0xEC) // sub rsp, frame
		c.u32(uint32(frame))
		// foreign stack args start above the shadow space at rbp+0x30
		for i := 6; i < arity; i++ {
			src := byte(0x30 + (i-4)*8)
			dst := byte((i - 6) * 8)
			c.op(0x48, 0x8B, 0x45, src)       // mov rax, [rbp+src]
			c.op(0x48, 0x89, 0x44, 0x24, dst) // mov [rsp+dst], rax
		}
	}

	if arity > 0 {
		c.op(0x48, 0x89, 0xCF) // mov rdi, rcx
	}
	if arity > 1 {
		c.op(0x48, 0x89, 0xD6) // mov rsi, rdx
	}
	if arity > 2 {
		c.op(0x4C, 0x89, 0xC2) // mov rdx, r8
	}
	if arity > 3 {
		c.op(0x4C, 0x89, 0xC9) // mov rcx, r9
	}
	if arity > 4 {
		c.op(0x4C, 0x8B, 0x45, 0x30) // mov r8, [rbp+0x30]
	}
	if arity > 5 {
		c.op(0x4C, 0x8B, 0x4D, 0x38) // mov r9, [rbp+0x38]
	}

	// movq <int reg>, xmm<i> for each floating point argument
	floatMoves := [4][]byte{
		{0x66, 0x48, 0x0F, 0x7E, 0xC7}, // movq rdi, xmm0
		{0x66, 0x48, 0x0F, 0x7E, 0xCE}, // movq rsi, xmm1
		{0x66, 0x48, 0x0F, 0x7E, 0xD2}, // movq rdx, xmm2
		{0x66, 0x48, 0x0F, 0x7E, 0xD9}, // movq rcx, xmm3
	}
	for i := 0; i < 4 && i < arity; i++ {
		if fn.FloatArgs&(1<<i) != 0 {
			c.op(floatMoves[i]...)
		}
	}

	c.op(0x48, 0xB8) // movabs rax, target
	c.u64(uint64(target))
	c.op(0xFF, 0xD0) // call rax

	if fn.FloatRet {
		c.op(0x66, 0x48, 0x0F, 0x6E, 0xC0) // movq xmm0, rax
	}

	c.op(0x48, 0x8D, 0x65, 0xF0) // lea rsp, [rbp-0x10]
	c.op(0x5E)                   // pop rsi
	c.op(0x5F)                   // pop rdi
	c.op(0x5D)                   // pop rbp
	c.op(0xC3)                   // ret
	return c.buf
}
