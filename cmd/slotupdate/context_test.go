package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/bootloader/grub"
	"github.com/mvo5/slotupdate/bootloader/uboot"
	"github.com/mvo5/slotupdate/config"
)

func TestSteererForUboot(t *testing.T) {
	sys := &config.System{Bootloader: config.BootloaderUboot}
	s, err := steererFor(sys)
	require.NoError(t, err)
	_, ok := s.(*uboot.Bootloader)
	assert.True(t, ok)
}

func TestSteererForGrub(t *testing.T) {
	sys := &config.System{Bootloader: config.BootloaderGrub}
	s, err := steererFor(sys)
	require.NoError(t, err)
	_, ok := s.(*grub.Bootloader)
	assert.True(t, ok)
}

func TestSteererForUnsupportedKindFails(t *testing.T) {
	sys := &config.System{Bootloader: config.BootloaderBarebox}
	_, err := steererFor(sys)
	assert.Error(t, err)
}

func TestSteererForUnknownKindFails(t *testing.T) {
	sys := &config.System{Bootloader: config.BootloaderKind("made-up")}
	_, err := steererFor(sys)
	assert.Error(t, err)
}

func TestIsRootDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { isRoot() })
}
