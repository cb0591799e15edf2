package pe

import (
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// Export maps a symbol name to the RVA of its function body.
type Export struct {
	Name string
	RVA  uint32
}

// Exports decodes the export directory into a name-keyed table.
// Forwarder entries (RVAs pointing back into the export directory) are
// skipped, the compiler library does not use them.
func (f *File) Exports() (map[string]Export, error) {
	dir := f.Directory(DirExport)
	if dir.RVA == 0 {
		return map[string]Export{}, nil
	}

	r := binary.NewReader(f.raw)
	dirOff, err := f.offsetOf(dir.RVA)
	if err != nil {
		return nil, err
	}
	if err := r.Seek(dirOff + 16); err != nil { // skip flags, timestamp, version, name RVA
		return nil, err
	}
	if _, err := r.ReadU32(); err != nil { // ordinal base
		return nil, err
	}
	funcCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	nameCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	funcsRVA, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	namesRVA, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ordsRVA, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	forwarderLo := dir.RVA
	forwarderHi := dir.RVA + dir.Size

	out := make(map[string]Export, nameCount)
	for i := uint32(0); i < nameCount; i++ {
		nameRVA, err := f.readU32At(r, namesRVA+i*4)
		if err != nil {
			return nil, err
		}
		nameOff, err := f.offsetOf(nameRVA)
		if err != nil {
			return nil, err
		}
		name, err := r.ReadCString(nameOff)
		if err != nil {
			return nil, err
		}

		ordOff, err := f.offsetOf(ordsRVA + i*2)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(ordOff); err != nil {
			return nil, err
		}
		ord, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		if uint32(ord) >= funcCount {
			continue
		}

		fnRVA, err := f.readU32At(r, funcsRVA+uint32(ord)*4)
		if err != nil {
			return nil, err
		}
		if fnRVA >= forwarderLo && fnRVA < forwarderHi {
			continue
		}
		out[name] = Export{Name: name, RVA: fnRVA}
	}
	return out, nil
}

func (f *File) readU32At(r *binary.Reader, rva uint32) (uint32, error) {
	off, err := f.offsetOf(rva)
	if err != nil {
		return 0, err
	}
	if err := r.Seek(off); err != nil {
		return 0, err
	}
	return r.ReadU32()
}
