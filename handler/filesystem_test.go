package handler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

func TestFilesystemHandlerWritesWithoutResize(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "slot-device")
	require.NoError(t, os.WriteFile(device, nil, 0644))

	mock := &subprocess.Mock{}
	h := &FilesystemHandler{Runner: mock}
	slot := &config.Slot{Device: device}

	data := []byte("filesystem image")
	err := h.Write(context.Background(), slot, bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	assert.Empty(t, mock.Calls)

	got, err := os.ReadFile(device)
	require.NoError(t, err)
	assert.Equal(t, data, got[:len(data)])
}

func TestFilesystemHandlerResizesWhenRequested(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "slot-device")
	require.NoError(t, os.WriteFile(device, nil, 0644))

	mock := &subprocess.Mock{Results: []subprocess.Result{{}}}
	h := &FilesystemHandler{Runner: mock}
	slot := &config.Slot{Device: device, Resize: true}

	data := []byte("filesystem image")
	err := h.Write(context.Background(), slot, bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	assert.Equal(t, []string{"resize2fs", device}, mock.Calls[0])
}

func TestFilesystemHandlerPropagatesResizeFailure(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "slot-device")
	require.NoError(t, os.WriteFile(device, nil, 0644))

	mock := &subprocess.Mock{Errs: []error{assert.AnError}}
	h := &FilesystemHandler{Runner: mock}
	slot := &config.Slot{Device: device, Resize: true}

	err := h.Write(context.Background(), slot, bytes.NewReader([]byte("x")), 1, nil)
	assert.Error(t, err)
}
