package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivateDebugAndQuietBothSucceed(t *testing.T) {
	require.NoError(t, Activate(true, false))
	assert.NotNil(t, L())

	require.NoError(t, Activate(false, true))
	assert.NotNil(t, L())

	require.NoError(t, Activate(false, false))
}

func TestLogErrorReturnsErrUnchanged(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, boom, LogError(boom))
	assert.NoError(t, LogError(nil))
}

func TestLevelHelpersDoNotPanic(t *testing.T) {
	require.NoError(t, Activate(true, false))
	assert.NotPanics(t, func() {
		Debugf("debug %d", 1)
		Infof("info %d", 2)
		Warnf("warn %d", 3)
		Errorf("error %d", 4)
	})
}
