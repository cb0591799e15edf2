// Package loader maps a decoded PE image into the process, applies base
// relocations, binds the import table through a Resolver, and tightens
// page protections afterwards. It never executes foreign code; entry
// points are surfaced as addresses for the bridge to call.
package loader

import (
	"os"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/pe"
)

const pageSize = 4096

// Resolver binds one import to a callable address.
type Resolver interface {
	Resolve(module, symbol string) (uintptr, error)
}

// Image is a relocated, import-bound mapping of a foreign library.
type Image struct {
	mapping []byte
	file    *pe.File
	exports map[string]pe.Export
	logger  *zap.Logger
}

// LoadFile reads and maps a library from disk. A missing file is
// reported as a library-not-found error so the facade can surface it
// lazily at first use.
func LoadFile(path string, res Resolver, logger *zap.Logger) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.LibraryNotFound(path, err)
	}
	return Load(raw, res, logger)
}

// Load maps the image, relocates it for the chosen base, and binds every
// import. Any failure unmaps the partial image; there is no partially
// loaded state.
func Load(raw []byte, res Resolver, logger *zap.Logger) (*Image, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := pe.Parse(raw)
	if err != nil {
		return nil, err
	}

	size := (int(f.SizeOfImage) + pageSize - 1) &^ (pageSize - 1)
	mapping, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindImageFormat).
			Cause(err).
			Detail("mapping %d bytes for image", size).
			Build()
	}

	im := &Image{mapping: mapping, file: f, logger: logger}
	if err := im.populate(res); err != nil {
		im.Close()
		return nil, err
	}

	logger.Info("image loaded",
		zap.Uint64("base", uint64(im.Base())),
		zap.Uint32("size", f.SizeOfImage),
		zap.Int("sections", len(f.Sections)),
		zap.Int("exports", len(im.exports)))
	return im, nil
}

func (im *Image) populate(res Resolver) error {
	f := im.file

	copy(im.mapping, f.Headers())
	for _, s := range f.Sections {
		end := int64(s.VirtualAddress) + int64(s.VirtualSize)
		if end > int64(len(im.mapping)) {
			return errors.ImageFormat("section %s extends past the image size", s.Name)
		}
		copy(im.mapping[s.VirtualAddress:], f.Data(s))
	}

	if err := im.relocate(); err != nil {
		return err
	}
	if err := im.bindImports(res); err != nil {
		return err
	}
	if err := im.protect(); err != nil {
		return err
	}

	im.exports = make(map[string]pe.Export)
	exports, err := f.Exports()
	if err != nil {
		return err
	}
	im.exports = exports
	return nil
}

// relocate applies every DIR64 fixup for the delta between the image's
// preferred base and where the mapping actually landed.
func (im *Image) relocate() error {
	relocs, err := im.file.Relocations()
	if err != nil {
		return err
	}
	delta := uint64(im.Base()) - im.file.ImageBase
	if delta == 0 {
		return nil
	}

	for _, rel := range relocs {
		if int64(rel.RVA)+8 > int64(len(im.mapping)) {
			return errors.Relocation(int64(rel.RVA), "fixup target outside mapped image")
		}
		p := (*uint64)(unsafe.Pointer(im.Base() + uintptr(rel.RVA)))
		*p += delta
	}
	im.logger.Debug("image relocated",
		zap.Int("fixups", len(relocs)),
		zap.Uint64("delta", delta))
	return nil
}

// bindImports resolves every thunk and writes the bound addresses into
// the import address table. Resolution is total: one unknown symbol
// fails the whole load.
func (im *Image) bindImports(res Resolver) error {
	imports, err := im.file.Imports()
	if err != nil {
		return err
	}
	for _, imp := range imports {
		addr, err := res.Resolve(imp.Module, imp.Name())
		if err != nil {
			return err
		}
		if int64(imp.ThunkRVA)+8 > int64(len(im.mapping)) {
			return errors.Relocation(int64(imp.ThunkRVA), "import thunk outside mapped image")
		}
		p := (*uint64)(unsafe.Pointer(im.Base() + uintptr(imp.ThunkRVA)))
		*p = uint64(addr)
	}
	return nil
}

// protect drops the blanket read-write mapping to per-section minimums
// once patching is done. Sections claiming both write and execute are
// refused, nothing in the target library needs that.
func (im *Image) protect() error {
	if err := unix.Mprotect(im.mapping[:pageSize], unix.PROT_READ); err != nil {
		return protectErr(err, "headers")
	}
	for _, s := range im.file.Sections {
		start := int(s.VirtualAddress) &^ (pageSize - 1)
		end := (int(s.VirtualAddress) + int(s.VirtualSize) + pageSize - 1) &^ (pageSize - 1)
		if end > len(im.mapping) {
			end = len(im.mapping)
		}
		if start >= end {
			continue
		}

		prot := 0
		if s.Characteristics&pe.SectionRead != 0 {
			prot |= unix.PROT_READ
		}
		if s.Characteristics&pe.SectionWrite != 0 {
			prot |= unix.PROT_WRITE
		}
		if s.Characteristics&pe.SectionExecute != 0 {
			prot |= unix.PROT_EXEC
		}
		if prot&unix.PROT_WRITE != 0 && prot&unix.PROT_EXEC != 0 {
			return errors.ImageFormat("section %s requests writable executable pages", s.Name)
		}
		if err := unix.Mprotect(im.mapping[start:end], prot); err != nil {
			return protectErr(err, s.Name)
		}
	}
	return nil
}

func protectErr(err error, what string) error {
	return errors.New(errors.PhaseLoad, errors.KindImageFormat).
		Cause(err).
		Detail("protecting %s", what).
		Build()
}

// Base returns the address the image is mapped at.
func (im *Image) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(im.mapping)))
}

// Size returns the mapped image size in bytes.
func (im *Image) Size() int {
	return len(im.mapping)
}

// Entry returns the address of the image's entry point (DllMain for a
// library), or 0 if the image declares none.
func (im *Image) Entry() uintptr {
	if im.file.EntryPointRVA == 0 {
		return 0
	}
	return im.Base() + uintptr(im.file.EntryPointRVA)
}

// Export looks up an exported symbol's mapped address.
func (im *Image) Export(name string) (uintptr, bool) {
	e, ok := im.exports[name]
	if !ok {
		return 0, false
	}
	return im.Base() + uintptr(e.RVA), true
}

// Close unmaps the image. The caller must guarantee no foreign code is
// executing in it.
func (im *Image) Close() error {
	if im.mapping == nil {
		return nil
	}
	err := unix.Munmap(im.mapping)
	im.mapping = nil
	return err
}
