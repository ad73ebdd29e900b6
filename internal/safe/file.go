package safe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/zoltan/internal/errors"
)

// DefaultMaxFileSize is the default maximum file size for safe file operations (1MB).
const DefaultMaxFileSize = 1 << 20

// FileOptions configures ReadFile and WriteFile.
type FileOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// Perm is the permission mode for written files. Zero means 0644.
	Perm os.FileMode
	// AllowSymlinks allows reading through symlinks. Default is false.
	AllowSymlinks bool
	// Logger receives cleanup failures. Zero value discards them.
	Logger zerolog.Logger
}

// ReadFile reads a file with security validations.
// It rejects symlinks by default to prevent file inclusion attacks,
// validates file size, and ensures only regular files are read.
func ReadFile(path string, opts *FileOptions) ([]byte, error) {
	if opts == nil {
		opts = &FileOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	cleanPath := filepath.Clean(path)

	// Check file info without following symlinks.
	info, err := os.Lstat(cleanPath)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed for security reasons", path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}

	// Check file size to prevent resource exhaustion.
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file exceeds maximum allowed size of %d bytes", maxSize)
	}

	return os.ReadFile(cleanPath)
}

// WriteFile writes data to path atomically: the bytes go to a temporary file
// in the same directory which is renamed over path once fully written.
// Readers never observe a partially written artifact.
func WriteFile(path string, data []byte, opts *FileOptions) (err error) {
	if opts == nil {
		opts = &FileOptions{}
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}

	cleanPath := filepath.Clean(path)
	if info, statErr := os.Lstat(cleanPath); statErr == nil && !info.Mode().IsRegular() {
		return fmt.Errorf("destination %q exists and is not a regular file", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(cleanPath), "."+filepath.Base(cleanPath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			errors.DeferRemove(opts.Logger, tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		errors.DeferClose(opts.Logger, tmp, "failed to close temporary file")
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		errors.DeferClose(opts.Logger, tmp, "failed to close temporary file")
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, cleanPath)
}
