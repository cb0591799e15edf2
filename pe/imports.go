package pe

import (
	"strconv"
	"strings"

	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// Import is one entry of the import address table. ThunkRVA is where the
// resolved address must be written into the mapped image.
type Import struct {
	Module    string
	Symbol    string
	Ordinal   uint16
	ByOrdinal bool
	ThunkRVA  uint32
}

// Name returns the symbol name, or "#<ordinal>" for ordinal imports.
func (im Import) Name() string {
	if im.ByOrdinal {
		return "#" + strconv.Itoa(int(im.Ordinal))
	}
	return im.Symbol
}

// Imports walks the import directory and returns every thunk that needs
// binding. Module names are lowercased so resolver tables match without
// case games.
func (f *File) Imports() ([]Import, error) {
	dir := f.Directory(DirImport)
	if dir.RVA == 0 {
		return nil, nil
	}

	r := binary.NewReader(f.raw)
	var out []Import

	for i := 0; ; i++ {
		descOff, err := f.offsetOf(dir.RVA + uint32(i)*importDescSize)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(descOff); err != nil {
			return nil, err
		}

		lookupRVA, err := r.ReadU32() // OriginalFirstThunk
		if err != nil {
			return nil, err
		}
		if _, err = r.ReadBytes(8); err != nil { // timestamp, forwarder chain
			return nil, err
		}
		nameRVA, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		addrRVA, err := r.ReadU32() // FirstThunk, the table the loader patches
		if err != nil {
			return nil, err
		}
		if lookupRVA == 0 && nameRVA == 0 && addrRVA == 0 {
			break
		}

		nameOff, err := f.offsetOf(nameRVA)
		if err != nil {
			return nil, err
		}
		module, err := r.ReadCString(nameOff)
		if err != nil {
			return nil, err
		}
		module = strings.ToLower(module)

		// Some linkers leave the lookup table empty and put the name
		// entries directly in the address table.
		if lookupRVA == 0 {
			lookupRVA = addrRVA
		}

		thunks, err := f.readThunks(r, module, lookupRVA, addrRVA)
		if err != nil {
			return nil, err
		}
		out = append(out, thunks...)
	}

	return out, nil
}

func (f *File) readThunks(r *binary.Reader, module string, lookupRVA, addrRVA uint32) ([]Import, error) {
	var out []Import
	for i := uint32(0); ; i++ {
		off, err := f.offsetOf(lookupRVA + i*8)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(off); err != nil {
			return nil, err
		}
		entry, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if entry == 0 {
			break
		}

		im := Import{Module: module, ThunkRVA: addrRVA + i*8}
		if entry&(1<<63) != 0 {
			im.ByOrdinal = true
			im.Ordinal = uint16(entry)
		} else {
			hintOff, err := f.offsetOf(uint32(entry))
			if err != nil {
				return nil, err
			}
			// skip the two-byte hint before the name
			sym, err := r.ReadCString(hintOff + 2)
			if err != nil {
				return nil, errors.Truncated(errors.PhaseParse, int64(hintOff), "unreadable import name in %s", module)
			}
			im.Symbol = sym
		}
		out = append(out, im)
	}
	return out, nil
}
