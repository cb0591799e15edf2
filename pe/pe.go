package pe

import (
	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

const (
	dosMagic = 0x5A4D // "MZ"
	ntMagic  = 0x00004550

	// PE32+ optional header magic. 32-bit images are rejected.
	optMagic64 = 0x20B

	MachineAMD64 = 0x8664

	subsystemGUI = 2
	subsystemCUI = 3

	sectionHeaderSize = 40
	importDescSize    = 20
)

// Data directory indexes used by the loader.
const (
	DirExport    = 0
	DirImport    = 1
	DirBaseReloc = 5
	dirCount     = 16
)

// Section characteristics bits that matter for page protection.
const (
	SectionExecute = 0x20000000
	SectionRead    = 0x40000000
	SectionWrite   = 0x80000000
)

// DataDirectory locates an optional-header table by image RVA.
type DataDirectory struct {
	RVA  uint32
	Size uint32
}

// Section describes one entry of the section table.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	RawOffset       uint32
	RawSize         uint32
	Characteristics uint32
}

// File is a decoded PE32+ image. Decoding is pure: nothing is mapped and
// no addresses are chosen, the loader does that against a copy of Raw.
type File struct {
	Machine          uint16
	Subsystem        uint16
	ImageBase        uint64
	SizeOfImage      uint32
	SizeOfHeaders    uint32
	SectionAlignment uint32
	EntryPointRVA    uint32
	Sections         []Section

	dirs [dirCount]DataDirectory
	raw  []byte
}

// Parse decodes the headers and section table of a PE32+ image.
func Parse(data []byte) (*File, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if magic != dosMagic {
		return nil, errors.BadMagic(errors.PhaseParse, string(data[:min(2, len(data))]), "MZ")
	}

	if err := r.Seek(0x3C); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, 0x3C, "missing DOS header")
	}
	peOff, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(int(peOff)); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, int64(peOff), "NT header offset past end of file")
	}

	sig, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if sig != ntMagic {
		return nil, errors.ImageFormat("NT signature %#x at offset %#x, want PE\\0\\0", sig, peOff)
	}

	f := &File{raw: data}

	// COFF file header
	if f.Machine, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if f.Machine != MachineAMD64 {
		return nil, errors.ImageFormat("machine type %#x, only AMD64 (%#x) is supported", f.Machine, MachineAMD64)
	}
	sectionCount, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if _, err = r.ReadBytes(12); err != nil { // timestamp, symbol table
		return nil, err
	}
	optSize, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if _, err = r.ReadU16(); err != nil { // characteristics
		return nil, err
	}

	optStart := r.Position()
	if err := f.parseOptionalHeader(r); err != nil {
		return nil, err
	}

	// The section table begins right after the declared optional header,
	// which may be longer than the fields we read.
	if err := r.Seek(optStart + int(optSize)); err != nil {
		return nil, errors.Truncated(errors.PhaseParse, int64(optStart), "optional header size %d past end of file", optSize)
	}
	f.Sections = make([]Section, 0, sectionCount)
	for i := 0; i < int(sectionCount); i++ {
		s, err := parseSection(r)
		if err != nil {
			return nil, err
		}
		if int64(s.RawOffset)+int64(s.RawSize) > int64(len(data)) {
			return nil, errors.Truncated(errors.PhaseParse, int64(s.RawOffset),
				"section %s raw data runs past end of file", s.Name)
		}
		f.Sections = append(f.Sections, s)
	}

	return f, nil
}

func (f *File) parseOptionalHeader(r *binary.Reader) error {
	magic, err := r.ReadU16()
	if err != nil {
		return err
	}
	if magic != optMagic64 {
		return errors.ImageFormat("optional header magic %#x, only PE32+ (%#x) is supported", magic, optMagic64)
	}

	if _, err = r.ReadBytes(14); err != nil { // linker version, code/data sizes
		return err
	}
	if f.EntryPointRVA, err = r.ReadU32(); err != nil {
		return err
	}
	if _, err = r.ReadU32(); err != nil { // base of code
		return err
	}
	if f.ImageBase, err = r.ReadU64(); err != nil {
		return err
	}
	if f.SectionAlignment, err = r.ReadU32(); err != nil {
		return err
	}
	if _, err = r.ReadBytes(20); err != nil { // file alignment, version fields
		return err
	}
	if f.SizeOfImage, err = r.ReadU32(); err != nil {
		return err
	}
	if f.SizeOfHeaders, err = r.ReadU32(); err != nil {
		return err
	}
	if _, err = r.ReadU32(); err != nil { // checksum
		return err
	}
	if f.Subsystem, err = r.ReadU16(); err != nil {
		return err
	}
	if f.Subsystem != subsystemGUI && f.Subsystem != subsystemCUI {
		return errors.ImageFormat("subsystem %d is unsupported", f.Subsystem)
	}
	if _, err = r.ReadBytes(2 + 4*8 + 4); err != nil { // dll characteristics, stack/heap reserves, loader flags
		return err
	}

	dirCountDeclared, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := 0; i < int(dirCountDeclared); i++ {
		rva, err := r.ReadU32()
		if err != nil {
			return err
		}
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		if i < dirCount {
			f.dirs[i] = DataDirectory{RVA: rva, Size: size}
		}
	}
	return nil
}

func parseSection(r *binary.Reader) (Section, error) {
	var s Section
	name, err := r.ReadBytes(8)
	if err != nil {
		return s, err
	}
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}
	s.Name = string(name[:end])

	if s.VirtualSize, err = r.ReadU32(); err != nil {
		return s, err
	}
	if s.VirtualAddress, err = r.ReadU32(); err != nil {
		return s, err
	}
	if s.RawSize, err = r.ReadU32(); err != nil {
		return s, err
	}
	if s.RawOffset, err = r.ReadU32(); err != nil {
		return s, err
	}
	if _, err = r.ReadBytes(12); err != nil { // relocation and line number fields
		return s, err
	}
	if s.Characteristics, err = r.ReadU32(); err != nil {
		return s, err
	}
	return s, nil
}

// Directory returns the data directory at the given index.
func (f *File) Directory(index int) DataDirectory {
	if index < 0 || index >= dirCount {
		return DataDirectory{}
	}
	return f.dirs[index]
}

// Data returns the raw file contents of a section, capped at its virtual
// size. The remainder of the virtual span is zero-filled by the loader.
func (f *File) Data(s Section) []byte {
	n := s.RawSize
	if s.VirtualSize != 0 && s.VirtualSize < n {
		n = s.VirtualSize
	}
	return f.raw[s.RawOffset : s.RawOffset+n]
}

// Headers returns the file bytes covered by SizeOfHeaders.
func (f *File) Headers() []byte {
	n := int(f.SizeOfHeaders)
	if n > len(f.raw) {
		n = len(f.raw)
	}
	return f.raw[:n]
}

// offsetOf translates an image RVA to a file offset using the section
// table. Header RVAs below the first section map one to one.
func (f *File) offsetOf(rva uint32) (int, error) {
	if rva < f.SizeOfHeaders {
		return int(rva), nil
	}
	for _, s := range f.Sections {
		span := s.VirtualSize
		if span == 0 {
			span = s.RawSize
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+span {
			off := rva - s.VirtualAddress
			if off >= s.RawSize {
				return 0, errors.OutOfBounds(errors.PhaseParse, int64(rva), "RVA in zero-filled tail of section %s", s.Name)
			}
			return int(s.RawOffset + off), nil
		}
	}
	return 0, errors.OutOfBounds(errors.PhaseParse, int64(rva), "RVA outside all sections")
}
