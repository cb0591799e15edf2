// Package petest builds small synthetic PE32+ images for tests. The
// produced files carry a real section table, import and export
// directories, and DIR64 relocation blocks, but only a few hundred bytes
// of payload.
package petest

import (
	"bytes"
	"encoding/binary"
	"sort"
)

const (
	fileAlign    = 0x200
	sectionAlign = 0x1000

	headersSize = 0x400
	textRVA     = 0x1000
	rdataRVA    = 0x2000
	relocRVA    = 0x3000
	imageSize   = 0x4000
)

// Import names one symbol the image depends on.
type Import struct {
	Module    string
	Symbol    string
	Ordinal   uint16
	ByOrdinal bool
}

// Spec describes the image to build. Zero values get working defaults.
type Spec struct {
	Machine   uint16 // default AMD64
	Subsystem uint16 // default console
	ImageBase uint64 // default 0x180000000
	EntryRVA  uint32

	Text    []byte            // placed at RVA 0x1000
	Imports []Import          // import directory in .rdata
	Exports map[string]uint32 // export directory in .rdata
	Relocs  []uint32          // DIR64 fixup RVAs in .reloc
}

// TextRVA is where Build places the Text bytes.
const TextRVA = textRVA

// FirstThunkRVA returns the RVA of the address-table slot for the
// index-th entry of Spec.Imports. Tests use it to locate patched slots
// in a loaded image.
func FirstThunkRVA(s Spec, index int) uint32 {
	modules, grouped := groupImports(s.Imports)
	pos := uint32(rdataRVA + (len(modules)+1)*20)
	seen := 0
	for _, m := range modules {
		n := uint32(len(grouped[m]))
		addr := pos + (n+1)*8
		if index < seen+len(grouped[m]) {
			return addr + uint32(index-seen)*8
		}
		seen += len(grouped[m])
		pos = addr + (n+1)*8
	}
	return 0
}

func groupImports(imports []Import) ([]string, map[string][]Import) {
	grouped := make(map[string][]Import)
	var modules []string
	for _, im := range imports {
		if _, ok := grouped[im.Module]; !ok {
			modules = append(modules, im.Module)
		}
		grouped[im.Module] = append(grouped[im.Module], im)
	}
	return modules, grouped
}

// Build assembles the image bytes.
func Build(s Spec) []byte {
	if s.Machine == 0 {
		s.Machine = 0x8664
	}
	if s.Subsystem == 0 {
		s.Subsystem = 3
	}
	if s.ImageBase == 0 {
		s.ImageBase = 0x1_8000_0000
	}

	text := padTo(s.Text, fileAlign)
	rdata, importDirSize, exportDirSize := buildRdata(s)
	rdata = padTo(rdata, fileAlign)
	reloc := padTo(buildReloc(s.Relocs), fileAlign)

	textOff := uint32(headersSize)
	rdataOff := textOff + uint32(len(text))
	relocOff := rdataOff + uint32(len(rdata))

	out := make([]byte, headersSize, headersSize+len(text)+len(rdata)+len(reloc))
	le := binary.LittleEndian

	// DOS stub
	copy(out, "MZ")
	le.PutUint32(out[0x3C:], 0x40)

	// NT signature + COFF header
	copy(out[0x40:], "PE\x00\x00")
	le.PutUint16(out[0x44:], s.Machine)
	le.PutUint16(out[0x46:], 3) // section count
	le.PutUint16(out[0x54:], 0xF0)
	le.PutUint16(out[0x56:], 0x2022) // DLL, executable, large-address-aware

	// optional header (PE32+)
	opt := out[0x58:]
	le.PutUint16(opt[0:], 0x20B)
	le.PutUint32(opt[16:], s.EntryRVA)
	le.PutUint32(opt[20:], textRVA)
	le.PutUint64(opt[24:], s.ImageBase)
	le.PutUint32(opt[32:], sectionAlign)
	le.PutUint32(opt[36:], fileAlign)
	le.PutUint32(opt[56:], imageSize)
	le.PutUint32(opt[60:], headersSize)
	le.PutUint16(opt[68:], s.Subsystem)
	le.PutUint32(opt[108:], 16) // directory count

	dirs := opt[112:]
	if exportDirSize > 0 {
		le.PutUint32(dirs[0:], rdataRVA+importDirSize)
		le.PutUint32(dirs[4:], exportDirSize)
	}
	if importDirSize > 0 {
		le.PutUint32(dirs[8:], rdataRVA)
		le.PutUint32(dirs[12:], importDirSize)
	}
	if len(reloc) > 0 && len(s.Relocs) > 0 {
		le.PutUint32(dirs[40:], relocRVA)
		le.PutUint32(dirs[44:], uint32(relocPayloadSize(s.Relocs)))
	}

	// section table
	sect := out[0x58+0xF0:]
	writeSection(sect[0:], ".text", textRVA, uint32(len(text)), textOff, uint32(len(text)), 0x60000020)   // code|exec|read
	writeSection(sect[40:], ".rdata", rdataRVA, uint32(len(rdata)), rdataOff, uint32(len(rdata)), 0x40000040) // data|read
	writeSection(sect[80:], ".reloc", relocRVA, uint32(len(reloc)), relocOff, uint32(len(reloc)), 0x42000040)

	out = append(out, text...)
	out = append(out, rdata...)
	out = append(out, reloc...)
	return out
}

func writeSection(b []byte, name string, rva, vsize, off, rawSize, chars uint32) {
	copy(b[:8], name)
	le := binary.LittleEndian
	le.PutUint32(b[8:], vsize)
	le.PutUint32(b[12:], rva)
	le.PutUint32(b[16:], rawSize)
	le.PutUint32(b[20:], off)
	le.PutUint32(b[36:], chars)
}

// buildRdata lays out import descriptors, thunk tables, name strings, and
// the export directory, all relative to rdataRVA. Returns the blob plus
// the import directory size and export directory size.
func buildRdata(s Spec) ([]byte, uint32, uint32) {
	le := binary.LittleEndian
	modules, grouped := groupImports(s.Imports)

	descSize := uint32((len(modules) + 1) * 20)
	if len(modules) == 0 {
		descSize = 0
	}

	// thunk tables follow the descriptors
	type tables struct{ lookup, addr uint32 }
	pos := descSize
	modTables := make(map[string]tables)
	for _, m := range modules {
		n := uint32(len(grouped[m]))
		modTables[m] = tables{lookup: pos, addr: pos + (n+1)*8}
		pos += 2 * (n + 1) * 8
	}

	// string area: hint/name entries then module names
	strings := bytes.Buffer{}
	strBase := pos
	hintRVAs := make(map[string]uint32)
	for _, m := range modules {
		for _, im := range grouped[m] {
			if im.ByOrdinal {
				continue
			}
			key := m + "!" + im.Symbol
			hintRVAs[key] = rdataRVA + strBase + uint32(strings.Len())
			strings.Write([]byte{0, 0}) // hint
			strings.WriteString(im.Symbol)
			strings.WriteByte(0)
		}
	}
	nameRVAs := make(map[string]uint32)
	for _, m := range modules {
		nameRVAs[m] = rdataRVA + strBase + uint32(strings.Len())
		strings.WriteString(m)
		strings.WriteByte(0)
	}
	importEnd := strBase + uint32(strings.Len())

	blob := make([]byte, importEnd)
	copy(blob[strBase:], strings.Bytes())

	for i, m := range modules {
		d := blob[i*20:]
		le.PutUint32(d[0:], rdataRVA+modTables[m].lookup)
		le.PutUint32(d[12:], nameRVAs[m])
		le.PutUint32(d[16:], rdataRVA+modTables[m].addr)

		for j, im := range grouped[m] {
			var entry uint64
			if im.ByOrdinal {
				entry = 1<<63 | uint64(im.Ordinal)
			} else {
				entry = uint64(hintRVAs[m+"!"+im.Symbol])
			}
			le.PutUint64(blob[modTables[m].lookup+uint32(j)*8:], entry)
			le.PutUint64(blob[modTables[m].addr+uint32(j)*8:], entry)
		}
	}

	var exportSize uint32
	if len(s.Exports) > 0 {
		exp, n := buildExports(s.Exports, rdataRVA+importEnd)
		blob = append(blob, exp...)
		exportSize = n
	}

	return blob, importEnd, exportSize
}

func buildExports(exports map[string]uint32, baseRVA uint32) ([]byte, uint32) {
	le := binary.LittleEndian
	names := make([]string, 0, len(exports))
	for n := range exports {
		names = append(names, n)
	}
	sort.Strings(names)
	n := uint32(len(names))

	funcsOff := uint32(40)
	namesOff := funcsOff + n*4
	ordsOff := namesOff + n*4
	strOff := ordsOff + n*2

	strs := bytes.Buffer{}
	blob := make([]byte, strOff)

	le.PutUint32(blob[16:], 1) // ordinal base
	le.PutUint32(blob[20:], n)
	le.PutUint32(blob[24:], n)
	le.PutUint32(blob[28:], baseRVA+funcsOff)
	le.PutUint32(blob[32:], baseRVA+namesOff)
	le.PutUint32(blob[36:], baseRVA+ordsOff)

	for i, name := range names {
		le.PutUint32(blob[funcsOff+uint32(i)*4:], exports[name])
		le.PutUint32(blob[namesOff+uint32(i)*4:], baseRVA+strOff+uint32(strs.Len()))
		le.PutUint16(blob[ordsOff+uint32(i)*2:], uint16(i))
		strs.WriteString(name)
		strs.WriteByte(0)
	}
	blob = append(blob, strs.Bytes()...)
	return blob, uint32(len(blob))
}

func buildReloc(rvas []uint32) []byte {
	if len(rvas) == 0 {
		return nil
	}
	le := binary.LittleEndian

	pages := make(map[uint32][]uint32)
	var order []uint32
	for _, rva := range rvas {
		page := rva &^ 0xFFF
		if _, ok := pages[page]; !ok {
			order = append(order, page)
		}
		pages[page] = append(pages[page], rva)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := bytes.Buffer{}
	for _, page := range order {
		entries := pages[page]
		count := len(entries)
		if count%2 == 1 {
			count++ // absolute padding entry
		}
		var hdr [8]byte
		le.PutUint32(hdr[0:], page)
		le.PutUint32(hdr[4:], uint32(8+count*2))
		out.Write(hdr[:])
		for _, rva := range entries {
			var e [2]byte
			le.PutUint16(e[:], uint16(10<<12)|uint16(rva&0xFFF))
			out.Write(e[:])
		}
		if len(entries)%2 == 1 {
			out.Write([]byte{0, 0})
		}
	}
	return out.Bytes()
}

func relocPayloadSize(rvas []uint32) int {
	return len(buildReloc(rvas))
}

func padTo(b []byte, align int) []byte {
	if len(b) == 0 {
		return nil
	}
	rem := len(b) % align
	if rem == 0 {
		return b
	}
	out := make([]byte, len(b)+align-rem)
	copy(out, b)
	return out
}
