package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Join(dir, "absent")))
}

func TestIsDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	assert.True(t, IsDirectory(dir))
	assert.False(t, IsDirectory(file))
}

func TestEnsureDirCreatesMissingParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, EnsureDir(target, 0755))
	assert.True(t, IsDirectory(target))
}

func TestAtomicWriteFileReplacesContentWholesale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, AtomicWriteFile(path, []byte("new"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	_, err = os.Stat(path + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestSha256sum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	sum, err := Sha256sum(path)
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sum)
}

func TestExitCodeFromNonExecError(t *testing.T) {
	code, err := ExitCode(assert.AnError)
	assert.Equal(t, 0, code)
	assert.Equal(t, assert.AnError, err)
}
