package compiler

import (
	"os"
	"path/filepath"

	"github.com/wippyai/dxbc-bridge/errors"
)

// IncludeType distinguishes the two #include forms. The values match
// the foreign compiler's enumeration.
type IncludeType uint32

const (
	IncludeLocal  IncludeType = 0 // #include "file"
	IncludeSystem IncludeType = 1 // #include <file>
)

// IncludeHandler resolves #include directives during compilation. Open
// returns the full contents of the included file; the bridge owns the
// copy handed to the foreign compiler and frees it after use.
type IncludeHandler interface {
	Open(kind IncludeType, filename string) ([]byte, error)
}

// FileSystemInclude resolves includes against an ordered list of
// directories, first hit wins.
type FileSystemInclude struct {
	paths []string
}

// NewFileSystemInclude builds a filesystem resolver over the given
// search directories.
func NewFileSystemInclude(paths ...string) *FileSystemInclude {
	return &FileSystemInclude{paths: paths}
}

func (h *FileSystemInclude) Open(kind IncludeType, filename string) ([]byte, error) {
	for _, dir := range h.paths {
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, errors.InvalidInput(errors.PhaseCompile, "include %q not found in %d search paths", filename, len(h.paths))
}

// MapInclude resolves includes from an in-memory table, keyed by the
// filename as written in the directive.
type MapInclude map[string]string

func (m MapInclude) Open(kind IncludeType, filename string) ([]byte, error) {
	src, ok := m[filename]
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseCompile, "include %q not defined", filename)
	}
	return []byte(src), nil
}
