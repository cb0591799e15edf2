package dxbc

import (
	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// SignatureParameter describes one input or output parameter. Field names
// follow the foreign reflection interface's signature descriptor.
type SignatureParameter struct {
	SemanticName  string
	SemanticIndex uint32
	Register      uint32
	SystemValue   uint32
	ComponentType uint32
	Stream        uint32
	MinPrecision  uint32
	Mask          uint8
	ReadWriteMask uint8
}

// SignatureInfo is the decoded form of a signature chunk.
type SignatureInfo struct {
	Tag        Tag
	Parameters []SignatureParameter
}

// Component type values used by signature chunks.
const (
	ComponentUnknown = 0
	ComponentUint32  = 1
	ComponentInt32   = 2
	ComponentFloat32 = 3
)

func componentTypeName(v uint32) string {
	switch v {
	case ComponentUint32:
		return "uint"
	case ComponentInt32:
		return "int"
	case ComponentFloat32:
		return "float"
	}
	return "unknown"
}

var systemValueNames = map[uint32]string{
	0:  "NONE",
	1:  "POS",
	2:  "CLIPDST",
	3:  "CULLDST",
	4:  "RTINDEX",
	5:  "VPINDEX",
	6:  "VERTID",
	7:  "PRIMID",
	8:  "INSTID",
	9:  "FFACE",
	10: "SAMPLE",
}

func systemValueName(v uint32) string {
	if n, ok := systemValueNames[v]; ok {
		return n
	}
	return "NONE"
}

// signature element strides by layout generation
const (
	sigStrideClassic = 24 // ISGN/OSGN/PCSG
	sigStrideStream  = 28 // OSG5: leading stream index
	sigStrideMinPrec = 32 // ISG1/OSG1/PSG1: stream plus min-precision
)

func sigStride(tag Tag) int {
	switch tag {
	case TagOSG5:
		return sigStrideStream
	case TagISG1, TagOSG1, TagPSG1:
		return sigStrideMinPrec
	default:
		return sigStrideClassic
	}
}

func decodeSignature(ch Chunk) (*SignatureInfo, error) {
	r := binary.NewReader(ch.Data)
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	elemOff, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(int(elemOff)); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, int64(elemOff), "%s element table offset past chunk end", ch.Tag)
	}

	stride := sigStride(ch.Tag)
	if int64(count)*int64(stride) > int64(r.Remaining()) {
		return nil, errors.Truncated(errors.PhaseParse, int64(elemOff),
			"%s declares %d elements, chunk holds %d bytes", ch.Tag, count, len(ch.Data))
	}
	info := &SignatureInfo{Tag: ch.Tag, Parameters: make([]SignatureParameter, 0, count)}
	for i := uint32(0); i < count; i++ {
		var p SignatureParameter
		if stride >= sigStrideStream {
			if p.Stream, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		nameOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if p.SemanticName, err = r.ReadCString(int(nameOff)); err != nil {
			return nil, err
		}
		if p.SemanticIndex, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if p.SystemValue, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if p.ComponentType, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if p.Register, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if p.Mask, err = r.ReadU8(); err != nil {
			return nil, err
		}
		if p.ReadWriteMask, err = r.ReadU8(); err != nil {
			return nil, err
		}
		if _, err = r.ReadU16(); err != nil { // padding
			return nil, err
		}
		if stride == sigStrideMinPrec {
			if p.MinPrecision, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		info.Parameters = append(info.Parameters, p)
	}
	return info, nil
}

func (c *Container) signature(tags ...Tag) (*SignatureInfo, bool, error) {
	for _, tag := range tags {
		if ch, ok := c.Chunk(tag); ok {
			info, err := decodeSignature(ch)
			if err != nil {
				return nil, true, err
			}
			return info, true, nil
		}
	}
	return nil, false, nil
}

// InputSignature decodes the input signature chunk. The second result is
// false when no input signature chunk is present.
func (c *Container) InputSignature() (*SignatureInfo, bool, error) {
	return c.signature(TagISG1, TagISGN)
}

// OutputSignature decodes the output signature chunk.
func (c *Container) OutputSignature() (*SignatureInfo, bool, error) {
	return c.signature(TagOSG1, TagOSG5, TagOSGN)
}

// PatchConstantSignature decodes the patch constant signature chunk used by
// hull and domain shaders.
func (c *Container) PatchConstantSignature() (*SignatureInfo, bool, error) {
	return c.signature(TagPSG1, TagPCSG)
}
