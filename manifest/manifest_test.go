package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const internalManifest = `[update]
compatible=acme-board-1
version=1.2.3
build=20260101

[bundle]
format=plain

[image.rootfs]
filename=rootfs.img
sha256=abc123
size=1048576
`

const externalManifest = `[update]
compatible=acme-board-1
version=1.2.3

[bundle]
format=verity
verity-salt=deadbeef
verity-hash=cafebabe
verity-size=4096

[image.rootfs]
filename=rootfs.img
sha256=abc123
size=1048576
hooks=install

[image.appfs.devboard]
filename=appfs-dev.img
sha256=def456
size=2048
`

func TestParseInternalManifest(t *testing.T) {
	m, err := Parse([]byte(internalManifest))
	require.NoError(t, err)
	assert.Equal(t, "acme-board-1", m.UpdateCompatible)
	assert.Equal(t, FormatPlain, m.BundleFormat)
	require.Len(t, m.Images, 1)
	assert.Equal(t, "rootfs.img", m.Images[0].Filename)
	assert.NoError(t, m.ValidateInternal())
}

func TestParseRequiresCompatible(t *testing.T) {
	_, err := Parse([]byte("[bundle]\nformat=plain\n"))
	require.Error(t, err)
}

func TestParseImagesPreserveDeclarationOrder(t *testing.T) {
	data := `[update]
compatible=x

[image.b]
filename=b.img
sha256=x
size=1

[image.a]
filename=a.img
sha256=x
size=1
`
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	ordered := m.ImagesOrdered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "b.img", ordered[0].Filename)
	assert.Equal(t, "a.img", ordered[1].Filename)
}

func TestParseImageVariant(t *testing.T) {
	m, err := Parse([]byte(externalManifest))
	require.NoError(t, err)
	require.Len(t, m.Images, 2)
	var variant *Image
	for _, img := range m.Images {
		if img.Variant == "devboard" {
			variant = img
		}
	}
	require.NotNil(t, variant)
	assert.Equal(t, "appfs", variant.SlotClass)
}

func TestParseHooksField(t *testing.T) {
	m, err := Parse([]byte(externalManifest))
	require.NoError(t, err)
	assert.True(t, m.Images[0].Hooks.Install)
	assert.False(t, m.Images[0].Hooks.PreInstall)
}

func TestValidateInternalRejectsVerityFields(t *testing.T) {
	m, err := Parse([]byte(externalManifest))
	require.NoError(t, err)
	assert.Error(t, m.ValidateInternal())
}

func TestValidateExternalRequiresVerityFields(t *testing.T) {
	m, err := Parse([]byte(internalManifest))
	require.NoError(t, err)
	assert.Error(t, m.ValidateExternal())
}

func TestValidateExternalAcceptsCompleteManifest(t *testing.T) {
	m, err := Parse([]byte(externalManifest))
	require.NoError(t, err)
	assert.NoError(t, m.ValidateExternal())
}

func TestValidateImagesRejectsMissingChecksum(t *testing.T) {
	data := `[update]
compatible=x

[image.rootfs]
filename=rootfs.img
`
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Error(t, m.ValidateInternal())
}

func TestCheckCompatible(t *testing.T) {
	m, err := Parse([]byte(internalManifest))
	require.NoError(t, err)
	assert.NoError(t, m.CheckCompatible("acme-board-1"))
	assert.Error(t, m.CheckCompatible("other-board"))
}

func TestCryptFormatRequiresCryptKey(t *testing.T) {
	data := externalManifest + "\n"
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	m.BundleFormat = FormatCrypt
	assert.Error(t, m.ValidateExternal())
	m.CryptKey = "0123456789abcdef"
	assert.NoError(t, m.ValidateExternal())
}
