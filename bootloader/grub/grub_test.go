package grub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/bootloader"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

func TestPrimaryParsesListOutput(t *testing.T) {
	mock := &subprocess.Mock{Results: []subprocess.Result{{Stdout: []byte("slotupdate_primary=system1\nother_var=x\n")}}}
	g := New("/boot/grub/grubenv")
	g.Runner = mock

	v, err := g.Primary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "system1", v)

	require.Len(t, mock.Calls, 1)
	assert.Equal(t, []string{"grub-editenv", "/boot/grub/grubenv", "list"}, mock.Calls[0])
}

func TestSetPrimaryInvokesSetVerb(t *testing.T) {
	mock := &subprocess.Mock{Results: []subprocess.Result{{}}}
	g := New("/boot/grub/grubenv")
	g.Runner = mock

	require.NoError(t, g.SetPrimary(context.Background(), "system1"))
	require.Len(t, mock.Calls, 1)
	assert.Equal(t, []string{"grub-editenv", "/boot/grub/grubenv", "set", "slotupdate_primary=system1"}, mock.Calls[0])
}

func TestStateParsesStatePrefixedVar(t *testing.T) {
	mock := &subprocess.Mock{Results: []subprocess.Result{{Stdout: []byte("slotupdate_state_system0=bad\n")}}}
	g := New("/boot/grub/grubenv")
	g.Runner = mock

	st, err := g.State(context.Background(), "system0")
	require.NoError(t, err)
	assert.Equal(t, bootloader.StateBad, st)
}

func TestMarkActiveSetsPrimaryThenTrying(t *testing.T) {
	mock := &subprocess.Mock{Results: []subprocess.Result{{}, {}}}
	g := New("/boot/grub/grubenv")
	g.Runner = mock

	require.NoError(t, g.Mark(context.Background(), "system1", bootloader.MarkActive))
	require.Len(t, mock.Calls, 2)
	assert.Contains(t, mock.Calls[0], "slotupdate_primary=system1")
	assert.Contains(t, mock.Calls[1], "slotupdate_state_system1=trying")
}

func TestGetVarPropagatesCommandFailure(t *testing.T) {
	mock := &subprocess.Mock{Errs: []error{assert.AnError}}
	g := New("/boot/grub/grubenv")
	g.Runner = mock

	_, err := g.Primary(context.Background())
	assert.Error(t, err)
}

func TestCustomEnvCmdIsUsed(t *testing.T) {
	mock := &subprocess.Mock{Results: []subprocess.Result{{}}}
	g := &Bootloader{EnvFile: "/tmp/env", EnvCmd: "custom-editenv", Runner: mock}

	require.NoError(t, g.SetPrimary(context.Background(), "x"))
	assert.Equal(t, "custom-editenv", mock.Calls[0][0])
}
