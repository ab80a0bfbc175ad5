// Package fsabs implements the filesystem abstraction the core consumes
// (spec §6): existence checks, whole-file read/write, remove, and
// directory creation, all rooted under a configured path and
// constrained to the flash-filesystem-friendly filename limit the LXMF
// store relies on.
package fsabs

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// MaxFilenameLength is the longest a single path component may be,
// chosen to accommodate flash filesystems with per-name limits (spec
// §6: "filenames are constrained to ≤ 28 characters").
const MaxFilenameLength = 28

// ErrFilenameTooLong indicates a path component exceeds MaxFilenameLength.
var ErrFilenameTooLong = errors.New("fsabs: filename exceeds maximum length")


// FS is a root-relative filesystem abstraction backed by afero, giving
// the LXMF store and any other persistence component a single place to
// validate paths before touching disk (spec §6's "consumed filesystem"
// contract).
type FS struct {
	base afero.Fs
}

// New wraps an afero.Fs, rooted via afero.NewBasePathFs at root. Callers
// that want an in-memory filesystem for tests pass afero.NewMemMapFs()
// as the underlying fs along with any root string ("/" is conventional).
func New(underlying afero.Fs, root string) *FS {
	return &FS{base: afero.NewBasePathFs(underlying, root)}
}

// validate rejects any path component longer than MaxFilenameLength.
// Root escape itself is prevented by afero.NewBasePathFs, which
// refuses to resolve a path outside its base.
func validate(p string) error {
	clean := path.Clean("/" + p)
	for _, part := range strings.Split(clean, "/") {
		if len(part) > MaxFilenameLength {
			return fmt.Errorf("%w: %q (%d bytes)", ErrFilenameTooLong, part, len(part))
		}
	}
	return nil
}

// FileExists reports whether path exists and is a regular file.
func (f *FS) FileExists(p string) bool {
	if err := validate(p); err != nil {
		return false
	}
	info, err := f.base.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ReadFile returns the full contents of path.
func (f *FS) ReadFile(p string) ([]byte, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	return afero.ReadFile(f.base, p)
}

// WriteFile writes data to path, creating or truncating it, and
// returns the number of bytes written.
func (f *FS) WriteFile(p string, data []byte) (int, error) {
	if err := validate(p); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(f.base, p, data, 0o644); err != nil {
		return 0, err
	}
	return len(data), nil
}

// RemoveFile deletes path, reporting whether it previously existed.
func (f *FS) RemoveFile(p string) bool {
	if err := validate(p); err != nil {
		return false
	}
	existed := f.FileExists(p)
	_ = f.base.Remove(p)
	return existed
}

// CreateDirectory ensures path exists as a directory, reporting success.
func (f *FS) CreateDirectory(p string) bool {
	if err := validate(p); err != nil {
		return false
	}
	return f.base.MkdirAll(p, 0o755) == nil
}
