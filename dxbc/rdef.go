package dxbc

import (
	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// ReflectionInfo is the decoded resource-definition chunk: the compiler
// creator string, constant buffer layouts, and resource bindings.
type ReflectionInfo struct {
	Creator         string
	VersionMajor    uint8
	VersionMinor    uint8
	ProgramType     uint16
	Flags           uint32
	ConstantBuffers []ConstantBuffer
	Bindings        []ResourceBinding
}

// ConstantBuffer describes one constant buffer and its variables.
type ConstantBuffer struct {
	Name      string
	Variables []ShaderVariable
	Size      uint32
	Flags     uint32
	Type      uint32
}

// ShaderVariable describes one variable within a constant buffer.
type ShaderVariable struct {
	Name        string
	StartOffset uint32
	Size        uint32
	Flags       uint32
	Class       uint16
	Type        uint16
	Rows        uint16
	Columns     uint16
	Elements    uint16
}

// ResourceBinding describes one bound resource (texture, sampler, cbuffer
// slot, UAV).
type ResourceBinding struct {
	Name       string
	Type       uint32
	ReturnType uint32
	Dimension  uint32
	NumSamples uint32
	BindPoint  uint32
	BindCount  uint32
	Flags      uint32
}

// Resource input types used by bindings (subset the tools print by name).
const (
	BindCBuffer = 0
	BindTBuffer = 1
	BindTexture = 2
	BindSampler = 3
	BindUAVRW   = 4
)

func bindTypeName(v uint32) string {
	switch v {
	case BindCBuffer:
		return "cbuffer"
	case BindTBuffer:
		return "tbuffer"
	case BindTexture:
		return "texture"
	case BindSampler:
		return "sampler"
	case BindUAVRW:
		return "uav"
	}
	return "resource"
}

func decodeReflection(ch Chunk) (*ReflectionInfo, error) {
	r := binary.NewReader(ch.Data)

	cbCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	cbOffset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	bindCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	bindOffset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	info := &ReflectionInfo{}
	if info.VersionMinor, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if info.VersionMajor, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if info.ProgramType, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if info.Flags, err = r.ReadU32(); err != nil {
		return nil, err
	}
	creatorOff, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if info.Creator, err = r.ReadCString(int(creatorOff)); err != nil {
		return nil, err
	}

	if err := r.Seek(int(bindOffset)); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, int64(bindOffset), "binding table offset past chunk end")
	}
	const bindStride = 32
	if int64(bindCount)*bindStride > int64(r.Remaining()) {
		return nil, errors.Truncated(errors.PhaseParse, int64(bindOffset),
			"binding table declares %d entries, chunk holds %d bytes", bindCount, len(ch.Data))
	}
	info.Bindings = make([]ResourceBinding, 0, bindCount)
	for i := uint32(0); i < bindCount; i++ {
		var b ResourceBinding
		nameOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if b.Name, err = r.ReadCString(int(nameOff)); err != nil {
			return nil, err
		}
		for _, dst := range []*uint32{&b.Type, &b.ReturnType, &b.Dimension, &b.NumSamples, &b.BindPoint, &b.BindCount, &b.Flags} {
			if *dst, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		info.Bindings = append(info.Bindings, b)
	}

	if err := r.Seek(int(cbOffset)); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, int64(cbOffset), "constant buffer table offset past chunk end")
	}
	const cbStride = 24
	if int64(cbCount)*cbStride > int64(r.Remaining()) {
		return nil, errors.Truncated(errors.PhaseParse, int64(cbOffset),
			"constant buffer table declares %d entries, chunk holds %d bytes", cbCount, len(ch.Data))
	}
	sm5 := info.VersionMajor >= 5
	info.ConstantBuffers = make([]ConstantBuffer, 0, cbCount)
	for i := uint32(0); i < cbCount; i++ {
		var cb ConstantBuffer
		nameOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if cb.Name, err = r.ReadCString(int(nameOff)); err != nil {
			return nil, err
		}
		varCount, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		varOffset, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if cb.Size, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if cb.Flags, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if cb.Type, err = r.ReadU32(); err != nil {
			return nil, err
		}

		next := r.Position()
		cb.Variables, err = decodeVariables(r, varOffset, varCount, sm5)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(next); err != nil {
			return nil, err
		}
		info.ConstantBuffers = append(info.ConstantBuffers, cb)
	}

	return info, nil
}

func decodeVariables(r *binary.Reader, off, count uint32, sm5 bool) ([]ShaderVariable, error) {
	if err := r.Seek(int(off)); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, int64(off), "variable table offset past chunk end")
	}
	stride := int64(24)
	if sm5 {
		stride = 40
	}
	if int64(count)*stride > int64(r.Remaining()) {
		return nil, errors.Truncated(errors.PhaseParse, int64(off),
			"variable table declares %d entries, only %d bytes remain", count, r.Remaining())
	}
	vars := make([]ShaderVariable, 0, count)
	for i := uint32(0); i < count; i++ {
		var v ShaderVariable
		nameOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if v.Name, err = r.ReadCString(int(nameOff)); err != nil {
			return nil, err
		}
		if v.StartOffset, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if v.Size, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if v.Flags, err = r.ReadU32(); err != nil {
			return nil, err
		}
		typeOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if _, err = r.ReadU32(); err != nil { // default value offset
			return nil, err
		}
		if sm5 {
			// start texture/sampler bookkeeping, unused by the tools
			if _, err = r.ReadBytes(16); err != nil {
				return nil, err
			}
		}

		next := r.Position()
		if err := decodeVariableType(r, typeOff, &v); err != nil {
			return nil, err
		}
		if err := r.Seek(next); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func decodeVariableType(r *binary.Reader, off uint32, v *ShaderVariable) error {
	if err := r.Seek(int(off)); err != nil {
		return errors.Truncated(errors.PhaseParse, int64(off), "type record offset past chunk end")
	}
	var err error
	for _, dst := range []*uint16{&v.Class, &v.Type, &v.Rows, &v.Columns, &v.Elements} {
		if *dst, err = r.ReadU16(); err != nil {
			return err
		}
	}
	return nil
}

// Reflection decodes the resource-definition chunk. The second result is
// false when the container carries no reflection data, which is the normal
// state for stripped containers.
func (c *Container) Reflection() (*ReflectionInfo, bool, error) {
	ch, ok := c.Chunk(TagRDEF)
	if !ok {
		return nil, false, nil
	}
	info, err := decodeReflection(ch)
	if err != nil {
		return nil, true, err
	}
	return info, true, nil
}
