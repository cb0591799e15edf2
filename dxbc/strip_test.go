package dxbc_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/wippyai/dxbc-bridge/dxbc"
)

func TestStripKeepsOnlyRequestedTags(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	s := c.Strip(dxbc.TagSHEX, dxbc.TagISGN)
	want := []dxbc.Tag{dxbc.TagISGN, dxbc.TagSHEX}
	if !reflect.DeepEqual(s.Tags(), want) {
		t.Errorf("tags = %v, want %v", s.Tags(), want)
	}
	if !s.VerifyDigest() {
		t.Error("stripped container digest should be recomputed")
	}
}

func TestStripIdempotent(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	keep := []dxbc.Tag{dxbc.TagSHEX, dxbc.TagOSGN}
	once := c.Strip(keep...)
	twice := once.Strip(keep...)
	if !reflect.DeepEqual(once, twice) {
		t.Error("Strip(Strip(c, T), T) != Strip(c, T)")
	}
	if !bytes.Equal(once.Encode(), twice.Encode()) {
		t.Error("stripped encodings differ")
	}
}

func TestStripDoesNotMutateInput(t *testing.T) {
	raw := testContainer(t)
	c, err := dxbc.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	_ = c.Strip(dxbc.TagSHEX)
	if !bytes.Equal(c.Encode(), raw) {
		t.Error("Strip mutated its receiver")
	}
}

func TestStripWithFlags(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	s := c.StripWithFlags(dxbc.StripDebugInfo | dxbc.StripReflectionData)
	if s.HasChunk(dxbc.TagSDBG) {
		t.Error("debug chunk should be stripped")
	}
	if s.HasChunk(dxbc.TagSTAT) {
		t.Error("statistics chunk should be stripped with reflection data")
	}
	if !s.HasChunk(dxbc.TagSHEX) {
		t.Error("bytecode must survive stripping")
	}
	if !s.HasChunk(dxbc.TagISGN) || !s.HasChunk(dxbc.TagOSGN) {
		t.Error("signatures must survive stripping")
	}
}

func TestPresenceLaw(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s := c.Strip(dxbc.TagSHEX)

	if _, ok, err := s.Reflection(); ok || err != nil {
		t.Errorf("absent RDEF: ok=%v err=%v, want not-present", ok, err)
	}
	if _, ok, err := s.InputSignature(); ok || err != nil {
		t.Errorf("absent ISGN: ok=%v err=%v, want not-present", ok, err)
	}
	if _, ok, err := s.Statistics(); ok || err != nil {
		t.Errorf("absent STAT: ok=%v err=%v, want not-present", ok, err)
	}
	if _, ok, err := s.PatchConstantSignature(); ok || err != nil {
		t.Errorf("absent PCSG: ok=%v err=%v, want not-present", ok, err)
	}
}

func TestPartExtraction(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if data, ok := c.Part(dxbc.PartDebugInfo); !ok || !bytes.Equal(data, []byte("debug-blob")) {
		t.Errorf("debug part: ok=%v data=%q", ok, data)
	}
	if _, ok := c.Part(dxbc.PartRootSignature); ok {
		t.Error("root signature part should be absent")
	}
}

func TestSetPart(t *testing.T) {
	c, err := dxbc.Decode(testContainer(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	out, ok := c.SetPart(dxbc.PartPrivateData, []byte("metadata"))
	if !ok {
		t.Fatal("SetPart private data should be supported")
	}
	if data, ok := out.Part(dxbc.PartPrivateData); !ok || string(data) != "metadata" {
		t.Errorf("private part after set: ok=%v data=%q", ok, data)
	}
	if !out.VerifyDigest() {
		t.Error("digest should be recomputed after SetPart")
	}

	if _, ok := c.SetPart(dxbc.PartOutputSignature, nil); ok {
		t.Error("multi-tag parts must not be settable")
	}
}
