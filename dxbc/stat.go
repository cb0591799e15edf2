package dxbc

import (
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// Statistics is the decoded statistics chunk. The chunk is a flat array of
// counters; later compiler versions append fields, so decoding stops at
// whatever the chunk provides and leaves the rest zero.
type Statistics struct {
	InstructionCount        uint32
	TempRegisterCount       uint32
	DefCount                uint32
	DclCount                uint32
	FloatInstructionCount   uint32
	IntInstructionCount     uint32
	UintInstructionCount    uint32
	StaticFlowControlCount  uint32
	DynamicFlowControlCount uint32
	MacroInstructionCount   uint32
	TempArrayCount          uint32
	ArrayInstructionCount   uint32
	CutInstructionCount     uint32
	EmitInstructionCount    uint32
	TextureNormalCount      uint32
	TextureLoadCount        uint32
	TextureCompCount        uint32
	TextureBiasCount        uint32
	TextureGradientCount    uint32
	MovInstructionCount     uint32
	MovcInstructionCount    uint32
	ConversionCount         uint32
}

func decodeStatistics(ch Chunk) (*Statistics, error) {
	r := binary.NewReader(ch.Data)
	s := &Statistics{}
	fields := []*uint32{
		&s.InstructionCount, &s.TempRegisterCount, &s.DefCount, &s.DclCount,
		&s.FloatInstructionCount, &s.IntInstructionCount, &s.UintInstructionCount,
		&s.StaticFlowControlCount, &s.DynamicFlowControlCount, &s.MacroInstructionCount,
		&s.TempArrayCount, &s.ArrayInstructionCount, &s.CutInstructionCount,
		&s.EmitInstructionCount, &s.TextureNormalCount, &s.TextureLoadCount,
		&s.TextureCompCount, &s.TextureBiasCount, &s.TextureGradientCount,
		&s.MovInstructionCount, &s.MovcInstructionCount, &s.ConversionCount,
	}
	for _, dst := range fields {
		if r.Remaining() < 4 {
			break
		}
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	return s, nil
}

// Statistics decodes the statistics chunk. The second result is false when
// the chunk is not present.
func (c *Container) Statistics() (*Statistics, bool, error) {
	ch, ok := c.Chunk(TagSTAT)
	if !ok {
		return nil, false, nil
	}
	s, err := decodeStatistics(ch)
	if err != nil {
		return nil, true, err
	}
	return s, true, nil
}
