package dxbc_test

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/dxbc-bridge/dxbc"
	"github.com/wippyai/dxbc-bridge/errors"
)

func TestDisassembleOutput(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	text, err := dxbc.Disassemble(c)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if !strings.Contains(text, "ps_5_0") {
		t.Errorf("output missing profile:\n%s", text)
	}
	if !strings.Contains(text, "0x0100086a") {
		t.Errorf("output missing instruction words:\n%s", text)
	}
}

func TestDisassembleUnchangedByStrip(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	full, err := dxbc.Disassemble(c)
	if err != nil {
		t.Fatalf("Disassemble full: %v", err)
	}

	stripped, err := dxbc.Disassemble(c.Strip(dxbc.TagSHEX))
	if err != nil {
		t.Fatalf("Disassemble stripped: %v", err)
	}

	if full != stripped {
		t.Error("stripping non-bytecode chunks changed the disassembly")
	}
}

func TestDisassembleTruncatedInput(t *testing.T) {
	raw := testContainer(t)
	_, err := dxbc.Decode(raw[:20])
	if !stderrors.Is(err, errors.ErrTruncated) {
		t.Errorf("truncated input should fail with a truncated error, got %v", err)
	}
}

func TestDisassembleNoBytecode(t *testing.T) {
	c := &dxbc.Container{Chunks: []dxbc.Chunk{{Tag: dxbc.TagPRIV, Data: []byte("x")}}}
	if _, err := dxbc.Disassemble(c); err == nil {
		t.Error("expected error for container without bytecode")
	}
}

func TestReflectOutput(t *testing.T) {
	c := &dxbc.Container{Chunks: []dxbc.Chunk{
		{Tag: dxbc.TagRDEF, Data: buildReflectionChunk()},
		{Tag: dxbc.TagISGN, Data: buildSignatureChunk([]sigParam{
			{name: "POSITION", compType: 3, mask: 0x7, rwMask: 0x7},
		})},
	}}

	text, err := dxbc.Reflect(c)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	for _, want := range []string{"globals", "tint", "diffuse", "POSITION"} {
		if !strings.Contains(text, want) {
			t.Errorf("reflect output missing %q:\n%s", want, text)
		}
	}
}

func TestReflectEmptyContainer(t *testing.T) {
	c := &dxbc.Container{}
	text, err := dxbc.Reflect(c)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if !strings.Contains(text, "no reflection data") {
		t.Errorf("unexpected output: %q", text)
	}
}

func TestDescribeListsChunks(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	text := dxbc.Describe(c)
	for _, want := range []string{"ISGN", "SHEX", "ps_5_0", "valid"} {
		if !strings.Contains(text, want) {
			t.Errorf("describe output missing %q:\n%s", want, text)
		}
	}
}
