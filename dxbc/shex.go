package dxbc

import (
	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// Program types encoded in the bytecode version token.
const (
	ProgramPixel    = 0
	ProgramVertex   = 1
	ProgramGeometry = 2
	ProgramHull     = 3
	ProgramDomain   = 4
	ProgramCompute  = 5
)

func programPrefix(t uint16) string {
	switch t {
	case ProgramPixel:
		return "ps"
	case ProgramVertex:
		return "vs"
	case ProgramGeometry:
		return "gs"
	case ProgramHull:
		return "hs"
	case ProgramDomain:
		return "ds"
	case ProgramCompute:
		return "cs"
	}
	return "??"
}

// BytecodeInfo is the decoded bytecode chunk: the shader model version
// token and the raw instruction stream.
type BytecodeInfo struct {
	Tag          Tag
	ProgramType  uint16
	VersionMajor uint8
	VersionMinor uint8
	Words        []uint32
}

// Profile returns the target profile string, e.g. "ps_5_0".
func (b *BytecodeInfo) Profile() string {
	return programPrefix(b.ProgramType) + "_" +
		string('0'+rune(b.VersionMajor)) + "_" + string('0'+rune(b.VersionMinor))
}

func decodeBytecode(ch Chunk) (*BytecodeInfo, error) {
	r := binary.NewReader(ch.Data)
	version, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	lengthDwords, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(lengthDwords)*4 > len(ch.Data) {
		return nil, errors.Truncated(errors.PhaseParse, 4,
			"%s declares %d dwords, chunk has %d bytes", ch.Tag, lengthDwords, len(ch.Data))
	}

	info := &BytecodeInfo{
		Tag:          ch.Tag,
		VersionMinor: uint8(version & 0xF),
		VersionMajor: uint8((version >> 4) & 0xF),
		ProgramType:  uint16(version >> 16),
	}

	// lengthDwords counts the two header dwords
	if lengthDwords >= 2 {
		info.Words = make([]uint32, 0, lengthDwords-2)
		for i := uint32(2); i < lengthDwords; i++ {
			w, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			info.Words = append(info.Words, w)
		}
	}
	return info, nil
}

// Bytecode decodes the instruction chunk (SHEX for SM5, SHDR for SM4).
// The second result is false when no bytecode chunk is present.
func (c *Container) Bytecode() (*BytecodeInfo, bool, error) {
	for _, tag := range []Tag{TagSHEX, TagSHDR} {
		if ch, ok := c.Chunk(tag); ok {
			info, err := decodeBytecode(ch)
			if err != nil {
				return nil, true, err
			}
			return info, true, nil
		}
	}
	return nil, false, nil
}
