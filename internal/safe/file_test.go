package safe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	t.Run("reads regular file", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "game.exe")
		require.NoError(t, os.WriteFile(src, []byte("MZ\x90\x00"), 0o644))

		got, err := ReadFile(src, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("MZ\x90\x00"), got)
	})

	t.Run("rejects symlink by default", func(t *testing.T) {
		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "source.bin")
		link := filepath.Join(tmpDir, "link.bin")
		require.NoError(t, os.WriteFile(src, []byte("test"), 0o644))
		require.NoError(t, os.Symlink(src, link))

		_, err := ReadFile(link, nil)
		assert.ErrorContains(t, err, "symlink")

		got, err := ReadFile(link, &FileOptions{AllowSymlinks: true})
		require.NoError(t, err)
		assert.Equal(t, "test", string(got))
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "large.bin")
		require.NoError(t, os.WriteFile(src, make([]byte, 1024), 0o644))

		_, err := ReadFile(src, &FileOptions{MaxSize: 512})
		assert.ErrorContains(t, err, "maximum allowed size")
	})

	t.Run("rejects directory", func(t *testing.T) {
		_, err := ReadFile(t.TempDir(), nil)
		assert.ErrorContains(t, err, "not a regular file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(t.TempDir(), "nope"), nil)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestWriteFile(t *testing.T) {
	t.Run("creates and replaces", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "out.o")

		require.NoError(t, WriteFile(dst, []byte("first"), nil))
		require.NoError(t, WriteFile(dst, []byte("second"), nil))

		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))

		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temporary files must not be left behind")
	})

	t.Run("custom permissions", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "out.h")
		require.NoError(t, WriteFile(dst, []byte("#pragma once\n"), &FileOptions{Perm: 0o600}))

		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("missing directory", func(t *testing.T) {
		err := WriteFile(filepath.Join(t.TempDir(), "missing", "out.o"), []byte("x"), nil)
		assert.Error(t, err)
	})

	t.Run("destination is a directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
		err := WriteFile(filepath.Join(dir, "sub"), []byte("x"), nil)
		assert.ErrorContains(t, err, "not a regular file")
	})
}
