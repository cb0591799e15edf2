package bridge

import (
	"bytes"
	"testing"

	"github.com/wippyai/dxbc-bridge/winabi"
)

func TestHostToForeignTwoArgs(t *testing.T) {
	got := hostToForeign(0x1122334455667788, 2)
	want := []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xE5, // mov rbp, rsp
		0x48, 0x81, 0xEC, 0x20, 0x00, 0x00, 0x00, // sub rsp, 0x20
		0x48, 0x89, 0xF2, // mov rdx, rsi
		0x48, 0x89, 0xF9, // mov rcx, rdi
		0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, // movabs rax, target
		0xFF, 0xD0, // call rax
		0x48, 0x89, 0xEC, // mov rsp, rbp
		0x5D, // pop rbp
		0xC3, // ret
	}
	if !bytes.Equal(got, want) {
		t.Errorf("stub = % x\nwant % x", got, want)
	}
}

func TestHostToForeignStackArgs(t *testing.T) {
	// eleven arguments is the compile entry point's shape
	got := hostToForeign(0xDEAD, 11)

	// frame must hold the 32-byte shadow area plus seven spilled
	// arguments, rounded to keep the call site 16-byte aligned
	if got[4] != 0x48 || got[5] != 0x81 || got[6] != 0xEC {
		t.Fatalf("missing stack frame setup: % x", got[:11])
	}
	frame := uint32(got[7]) | uint32(got[8])<<8 | uint32(got[9])<<16 | uint32(got[10])<<24
	if frame != 0x60 {
		t.Errorf("frame = %#x, want 0x60", frame)
	}
	if frame%16 != 0 {
		t.Errorf("frame %#x not 16-byte aligned", frame)
	}

	// argument 4 spills from r8 into the first slot past the shadow area
	if !bytes.Contains(got, []byte{0x4C, 0x89, 0x44, 0x24, 0x20}) {
		t.Error("missing r8 spill")
	}
	// argument 10 comes off the host stack and lands at rsp+0x50
	if !bytes.Contains(got, []byte{0x48, 0x8B, 0x45, 0x30, 0x48, 0x89, 0x44, 0x24, 0x50}) {
		t.Error("missing final stack argument copy")
	}
	if got[len(got)-1] != 0xC3 {
		t.Error("stub must end in ret")
	}
}

func TestForeignToHostPreservesHostRegisters(t *testing.T) {
	got := foreignToHost(0xBEEF, winabi.Func{Arity: 2})
	want := []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xE5, // mov rbp, rsp
		0x57,             // push rdi
		0x56,             // push rsi
		0x48, 0x89, 0xCF, // mov rdi, rcx
		0x48, 0x89, 0xD6, // mov rsi, rdx
		0x48, 0xB8, 0xEF, 0xBE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // movabs rax, target
		0xFF, 0xD0, // call rax
		0x48, 0x8D, 0x65, 0xF0, // lea rsp, [rbp-0x10]
		0x5E, // pop rsi
		0x5F, // pop rdi
		0x5D, // pop rbp
		0xC3, // ret
	}
	if !bytes.Equal(got, want) {
		t.Errorf("stub = % x\nwant % x", got, want)
	}
}

func TestForeignToHostFloatArguments(t *testing.T) {
	got := foreignToHost(0x1, winabi.Func{Arity: 2, FloatArgs: 0b11, FloatRet: true})

	if !bytes.Contains(got, []byte{0x66, 0x48, 0x0F, 0x7E, 0xC7}) {
		t.Error("missing movq rdi, xmm0")
	}
	if !bytes.Contains(got, []byte{0x66, 0x48, 0x0F, 0x7E, 0xCE}) {
		t.Error("missing movq rsi, xmm1")
	}
	if !bytes.Contains(got, []byte{0x66, 0x48, 0x0F, 0x6E, 0xC0}) {
		t.Error("missing movq xmm0, rax return move")
	}
}

func TestForeignToHostSixArgs(t *testing.T) {
	got := foreignToHost(0x1, winabi.Func{Arity: 6})

	// arguments 4 and 5 come off the foreign stack past the shadow area
	if !bytes.Contains(got, []byte{0x4C, 0x8B, 0x45, 0x30}) {
		t.Error("missing load of argument 4")
	}
	if !bytes.Contains(got, []byte{0x4C, 0x8B, 0x4D, 0x38}) {
		t.Error("missing load of argument 5")
	}
}

func TestThunkArenaPlacement(t *testing.T) {
	var a thunkArena
	defer a.release()

	s1, err := a.place([]byte{0xC3})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	s2, err := a.place([]byte{0x90, 0xC3})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if s1 == 0 || s2 == 0 || s1 == s2 {
		t.Errorf("addresses %#x %#x", s1, s2)
	}
	if s1%16 != 0 || s2%16 != 0 {
		t.Error("stub addresses should be 16-byte aligned")
	}
}
