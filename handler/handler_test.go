package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/manifest"
)

func TestSelectDispatchesBySlotType(t *testing.T) {
	r := NewRegistry()
	m := &manifest.Manifest{}
	img := &manifest.Image{Filename: "rootfs.img"}
	slot := &config.Slot{Type: "filesystem"}

	h, err := r.Select(m, img, slot)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", h.Name())
}

func TestSelectInfersTypeFromFilenameWhenSlotTypeEmpty(t *testing.T) {
	r := NewRegistry()
	m := &manifest.Manifest{}

	h, err := r.Select(m, &manifest.Image{Filename: "data.tar.gz"}, &config.Slot{})
	require.NoError(t, err)
	assert.Equal(t, "tarball", h.Name())

	h, err = r.Select(m, &manifest.Image{Filename: "rootfs.ext4"}, &config.Slot{})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", h.Name())

	h, err = r.Select(m, &manifest.Image{Filename: "bootloader.bin"}, &config.Slot{})
	require.NoError(t, err)
	assert.Equal(t, "raw", h.Name())
}

func TestSelectPrefersManifestHandlerOverride(t *testing.T) {
	r := NewRegistry()
	r.RegisterCustom("myhandler", CustomHandler{Path: "/bin/myhandler"})

	m := &manifest.Manifest{HandlerName: "myhandler"}
	h, err := r.Select(m, &manifest.Image{Filename: "x.img"}, &config.Slot{Type: "filesystem"})
	require.NoError(t, err)
	assert.Equal(t, "hook:/bin/myhandler", h.Name())
}

func TestSelectFailsOnUnknownManifestHandler(t *testing.T) {
	r := NewRegistry()
	m := &manifest.Manifest{HandlerName: "missing"}
	_, err := r.Select(m, &manifest.Image{Filename: "x.img"}, &config.Slot{})
	assert.Error(t, err)
}

func TestSelectFailsOnUnknownSlotType(t *testing.T) {
	r := NewRegistry()
	m := &manifest.Manifest{}
	_, err := r.Select(m, &manifest.Image{Filename: "x.img"}, &config.Slot{Type: "unknown-type"})
	assert.Error(t, err)
}
