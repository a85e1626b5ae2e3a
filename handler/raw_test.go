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
)

func TestRawHandlerWritesImageBytes(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "slot-device")
	require.NoError(t, os.WriteFile(device, make([]byte, 64), 0644))

	data := []byte("raw image payload")
	h := &RawHandler{}
	slot := &config.Slot{Device: device}

	var percents []int
	err := h.Write(context.Background(), slot, bytes.NewReader(data), int64(len(data)), func(p int) { percents = append(percents, p) })
	require.NoError(t, err)

	got, err := os.ReadFile(device)
	require.NoError(t, err)
	assert.Equal(t, data, got[:len(data)])
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestRawHandlerFailsOnMissingDevice(t *testing.T) {
	h := &RawHandler{}
	slot := &config.Slot{Device: "/nonexistent/path/for/test"}
	err := h.Write(context.Background(), slot, bytes.NewReader([]byte("x")), 1, nil)
	assert.Error(t, err)
}

func TestRawHandlerRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "slot-device")
	require.NoError(t, os.WriteFile(device, nil, 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &RawHandler{}
	slot := &config.Slot{Device: device}
	err := h.Write(ctx, slot, bytes.NewReader([]byte("data")), 4, nil)
	assert.Error(t, err)
}

func TestRawHandlerName(t *testing.T) {
	assert.Equal(t, "raw", (&RawHandler{}).Name())
}
