package dxbc_test

import (
	"bytes"
	stdbinary "encoding/binary"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/wippyai/dxbc-bridge/dxbc"
	"github.com/wippyai/dxbc-bridge/errors"
)

// buildBytecodeChunk assembles a SHEX payload for the given program type,
// model, and instruction words.
func buildBytecodeChunk(progType uint16, major, minor uint8, words []uint32) []byte {
	var buf bytes.Buffer
	version := uint32(minor&0xF) | uint32(major&0xF)<<4 | uint32(progType)<<16
	stdbinary.Write(&buf, stdbinary.LittleEndian, version)
	stdbinary.Write(&buf, stdbinary.LittleEndian, uint32(len(words)+2))
	for _, w := range words {
		stdbinary.Write(&buf, stdbinary.LittleEndian, w)
	}
	return buf.Bytes()
}

type sigParam struct {
	name     string
	index    uint32
	sysval   uint32
	compType uint32
	register uint32
	mask     uint8
	rwMask   uint8
}

// buildSignatureChunk assembles a classic-layout (24-byte element)
// signature payload with a trailing string table.
func buildSignatureChunk(params []sigParam) []byte {
	var buf bytes.Buffer
	le := stdbinary.LittleEndian
	stdbinary.Write(&buf, le, uint32(len(params)))
	stdbinary.Write(&buf, le, uint32(8))

	strTable := bytes.Buffer{}
	strBase := 8 + 24*len(params)
	for _, p := range params {
		stdbinary.Write(&buf, le, uint32(strBase+strTable.Len()))
		strTable.WriteString(p.name)
		strTable.WriteByte(0)
		stdbinary.Write(&buf, le, p.index)
		stdbinary.Write(&buf, le, p.sysval)
		stdbinary.Write(&buf, le, p.compType)
		stdbinary.Write(&buf, le, p.register)
		buf.WriteByte(p.mask)
		buf.WriteByte(p.rwMask)
		buf.WriteByte(0)
		buf.WriteByte(0)
	}
	buf.Write(strTable.Bytes())
	return buf.Bytes()
}

// testContainer builds a realistic pixel shader container and returns its
// encoded bytes.
func testContainer(t *testing.T) []byte {
	t.Helper()
	c := &dxbc.Container{
		Chunks: []dxbc.Chunk{
			{Tag: dxbc.TagISGN, Data: buildSignatureChunk([]sigParam{
				{name: "SV_POSITION", sysval: 1, compType: 3, mask: 0xF, rwMask: 0xF},
				{name: "TEXCOORD", compType: 3, register: 1, mask: 0x3, rwMask: 0x3},
			})},
			{Tag: dxbc.TagOSGN, Data: buildSignatureChunk([]sigParam{
				{name: "SV_TARGET", compType: 3, mask: 0xF},
			})},
			{Tag: dxbc.TagSHEX, Data: buildBytecodeChunk(dxbc.ProgramPixel, 5, 0,
				[]uint32{0x0100086a, 0x03001062, 0x001010f2, 0x00000001, 0x0100003e})},
			{Tag: dxbc.TagSTAT, Data: make([]byte, 29*4)},
			{Tag: dxbc.TagSDBG, Data: []byte("debug-blob")},
		},
	}
	return c.Encode()
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := testContainer(t)
	c, err := dxbc.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	again, err := dxbc.Decode(c.Encode())
	if err != nil {
		t.Fatalf("Decode(Encode): %v", err)
	}
	if !reflect.DeepEqual(c, again) {
		t.Error("Decode(Encode(c)) differs from c")
	}

	if !bytes.Equal(c.Encode(), raw) {
		t.Error("Encode(Decode(b)) differs from b for encoder-produced input")
	}
}

func TestDecodeBadMagic(t *testing.T) {
	raw := testContainer(t)
	raw[0] = 'X'
	_, err := dxbc.Decode(raw)
	if !stderrors.Is(err, errors.ErrBadMagic) {
		t.Errorf("expected bad magic, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	raw := testContainer(t)

	// header claims the full size but the file is cut short
	_, err := dxbc.Decode(raw[:len(raw)-16])
	if !stderrors.Is(err, errors.ErrTruncated) {
		t.Errorf("expected truncated, got %v", err)
	}

	// cut inside the header
	_, err = dxbc.Decode(raw[:10])
	if !stderrors.Is(err, errors.ErrTruncated) {
		t.Errorf("expected truncated header, got %v", err)
	}
}

func TestDecodeChunkSizePastEnd(t *testing.T) {
	raw := testContainer(t)
	c, _ := dxbc.Decode(raw)

	// corrupt the first chunk's declared size
	firstOff := 4 + 16 + 4 + 4 + 4 + 4*len(c.Chunks)
	stdbinary.LittleEndian.PutUint32(raw[firstOff+4:], 0x7FFFFFFF)
	_, err := dxbc.Decode(raw)
	if !stderrors.Is(err, errors.ErrTruncated) {
		t.Errorf("expected truncated, got %v", err)
	}
}

func TestDigestVerification(t *testing.T) {
	raw := testContainer(t)
	c, err := dxbc.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !c.VerifyDigest() {
		t.Error("digest of freshly encoded container should verify")
	}

	raw[len(raw)-1] ^= 0xFF
	tampered, err := dxbc.Decode(raw)
	if err != nil {
		t.Fatalf("Decode tampered: %v", err)
	}
	if tampered.VerifyDigest() {
		t.Error("digest should not verify after payload tampering")
	}
}

func TestChunkLookup(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !c.HasChunk(dxbc.TagSHEX) {
		t.Error("SHEX should be present")
	}
	if c.HasChunk(dxbc.TagRDEF) {
		t.Error("RDEF should be absent")
	}

	tags := c.Tags()
	want := []dxbc.Tag{dxbc.TagISGN, dxbc.TagOSGN, dxbc.TagSHEX, dxbc.TagSTAT, dxbc.TagSDBG}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(c.Encode(), c.Encode()) {
		t.Error("Encode must be deterministic")
	}
}
