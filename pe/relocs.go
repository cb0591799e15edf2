package pe

import (
	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// Base relocation entry types.
const (
	RelocAbsolute = 0  // padding, no fixup
	RelocDir64    = 10 // 64-bit delta at the target
)

// Relocation is one fixup site within the image.
type Relocation struct {
	RVA  uint32
	Type uint8
}

// Relocations flattens the base relocation directory. Only absolute
// padding entries and DIR64 fixups are accepted, anything else in a
// 64-bit image means the file is damaged.
func (f *File) Relocations() ([]Relocation, error) {
	dir := f.Directory(DirBaseReloc)
	if dir.RVA == 0 {
		return nil, nil
	}

	r := binary.NewReader(f.raw)
	var out []Relocation

	pos := uint32(0)
	for pos < dir.Size {
		blockOff, err := f.offsetOf(dir.RVA + pos)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(blockOff); err != nil {
			return nil, err
		}

		pageRVA, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		blockSize, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if blockSize < 8 || pos+blockSize > dir.Size {
			return nil, errors.Relocation(int64(blockOff), "relocation block size %d exceeds directory", blockSize)
		}

		for i := uint32(8); i < blockSize; i += 2 {
			entry, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			typ := uint8(entry >> 12)
			if typ == RelocAbsolute {
				continue
			}
			if typ != RelocDir64 {
				return nil, errors.Relocation(int64(blockOff)+int64(i), "unsupported relocation type %d", typ)
			}
			out = append(out, Relocation{RVA: pageRVA + uint32(entry&0xFFF), Type: typ})
		}
		pos += blockSize
	}

	return out, nil
}
