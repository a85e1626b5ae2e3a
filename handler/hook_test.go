package handler

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

func TestHookHandlerStreamsToCustomBinary(t *testing.T) {
	mock := &subprocess.Mock{Results: []subprocess.Result{{}}}
	h := &hookHandler{custom: CustomHandler{Path: "/bundle/handlers/install.sh", Runner: mock}, args: "extra-arg"}
	slot := &config.Slot{Device: "/dev/fake0"}

	var gotPercent int
	data := []byte("handler payload")
	err := h.Write(context.Background(), slot, bytes.NewReader(data), int64(len(data)), func(p int) { gotPercent = p })
	require.NoError(t, err)
	assert.Equal(t, 100, gotPercent)

	require.Len(t, mock.Calls, 1)
	assert.Equal(t, []string{"/bundle/handlers/install.sh", "install", "/dev/fake0", "extra-arg"}, mock.Calls[0])
}

func TestHookHandlerNameIncludesPath(t *testing.T) {
	h := &hookHandler{custom: CustomHandler{Path: "/bin/myhandler"}}
	assert.Equal(t, "hook:/bin/myhandler", h.Name())
}

func TestHookHandlerPropagatesRunnerFailure(t *testing.T) {
	mock := &subprocess.Mock{Errs: []error{assert.AnError}}
	h := &hookHandler{custom: CustomHandler{Path: "/bin/myhandler", Runner: mock}}
	slot := &config.Slot{Device: "/dev/fake0"}

	err := h.Write(context.Background(), slot, bytes.NewReader([]byte("x")), 1, nil)
	assert.Error(t, err)
}
