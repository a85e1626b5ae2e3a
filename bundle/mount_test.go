package bundle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/internal/subprocess"
	"github.com/mvo5/slotupdate/manifest"
)

// A nil manifest is mounted as plain, so losetup runs; the bare mock
// gives it no device path, which is the failure checked here.
func TestMountWithoutManifestFailsWhenLosetupReturnsNoDevice(t *testing.T) {
	src, _ := OpenLocal(writeTestBundle(t, make([]byte, blockSize), []byte("s")))
	defer src.Close()
	b, err := Open(src)
	require.NoError(t, err)

	err = Mount(context.Background(), b, &subprocess.Mock{}, MountOptions{})
	assert.Error(t, err)
}

func TestMountRejectsDoubleMount(t *testing.T) {
	src, _ := OpenLocal(writeTestBundle(t, make([]byte, blockSize), []byte("s")))
	defer src.Close()
	b, err := Open(src)
	require.NoError(t, err)
	b.Manifest = &manifest.Manifest{BundleFormat: manifest.FormatPlain}
	b.MountPoint = "/already/mounted"

	err = Mount(context.Background(), b, &subprocess.Mock{}, MountOptions{})
	assert.Error(t, err)
}

func TestMountPlainAttachesLoopAndMounts(t *testing.T) {
	src, _ := OpenLocal(writeTestBundle(t, make([]byte, blockSize), []byte("s")))
	defer src.Close()
	b, err := Open(src)
	require.NoError(t, err)
	b.Manifest = &manifest.Manifest{BundleFormat: manifest.FormatPlain}

	mock := &subprocess.Mock{Results: []subprocess.Result{
		{Stdout: []byte("/dev/loop7\n")},
		{},
	}}
	err = Mount(context.Background(), b, mock, MountOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, b.MountPoint)

	require.Len(t, mock.Calls, 2)
	assert.Equal(t, "losetup", mock.Calls[0][0])
	assert.Equal(t, "mount", mock.Calls[1][0])

	require.NoError(t, Unmount(b))
}

func TestMountCryptRequiresKey(t *testing.T) {
	src, _ := OpenLocal(writeTestBundle(t, make([]byte, blockSize), []byte("s")))
	defer src.Close()
	b, err := Open(src)
	require.NoError(t, err)
	b.Manifest = &manifest.Manifest{BundleFormat: manifest.FormatCrypt}

	err = Mount(context.Background(), b, &subprocess.Mock{}, MountOptions{})
	assert.Error(t, err)
}

func TestUnmountToleratesNeverMounted(t *testing.T) {
	b := &Bundle{}
	assert.NoError(t, Unmount(b))
}

func TestSanitizeDMNameReplacesUnsafeChars(t *testing.T) {
	assert.Equal(t, "1_0_abc-DEF", sanitizeDMName("1.0/abc-DEF"))
}
