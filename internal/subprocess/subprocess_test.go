package subprocess

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerCapturesStdout(t *testing.T) {
	res, err := Exec.Run(context.Background(), nil, "echo", "-n", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Stdout))
}

func TestExecRunnerReturnsErrorOnNonZeroExit(t *testing.T) {
	_, err := Exec.Run(context.Background(), nil, "false")
	assert.Error(t, err)
}

func TestExecRunnerFeedsStdin(t *testing.T) {
	res, err := Exec.Run(context.Background(), []byte("input\n"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "input\n", string(res.Stdout))
}

func TestRunStreamingPipesReaderAsStdin(t *testing.T) {
	res, err := Exec.RunStreaming(context.Background(), bytes.NewBufferString("streamed"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(res.Stdout))
}

func TestMockRecordsCallsAndReturnsCannedResults(t *testing.T) {
	m := &Mock{Results: []Result{{Stdout: []byte("out1")}, {Stdout: []byte("out2")}}}

	res1, err := m.Run(context.Background(), nil, "veritysetup", "verify")
	require.NoError(t, err)
	assert.Equal(t, "out1", string(res1.Stdout))

	res2, err := m.Run(context.Background(), nil, "losetup", "--find")
	require.NoError(t, err)
	assert.Equal(t, "out2", string(res2.Stdout))

	require.Len(t, m.Calls, 2)
	assert.Equal(t, []string{"veritysetup", "verify"}, m.Calls[0])
	assert.Equal(t, []string{"losetup", "--find"}, m.Calls[1])
}

func TestMockReturnsConfiguredError(t *testing.T) {
	boom := assert.AnError
	m := &Mock{Errs: []error{boom}}
	_, err := m.Run(context.Background(), nil, "mount")
	assert.Equal(t, boom, err)
}

func TestMockRunStreamingDrainsStdin(t *testing.T) {
	m := &Mock{}
	_, err := m.RunStreaming(context.Background(), bytes.NewBufferString("payload"), "tar", "-x")
	require.NoError(t, err)
	require.Len(t, m.Calls, 1)
	assert.Equal(t, []string{"tar", "-x"}, m.Calls[0])
}
