package uboot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/bootloader"
)

func TestPrimaryReturnsEmptyWhenEnvFileMissing(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "missing.txt"))
	v, err := u.Primary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSetPrimaryThenPrimaryRoundTrips(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "env.txt"))
	require.NoError(t, u.SetPrimary(context.Background(), "system1"))

	got, err := u.Primary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "system1", got)
}

func TestSetPrimaryPreservesOtherLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.txt")
	require.NoError(t, os.WriteFile(path, []byte("unrelated_var=keepme\nslotupdate_primary=system0\n"), 0644))

	u := New(path)
	require.NoError(t, u.SetPrimary(context.Background(), "system1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unrelated_var=keepme")
	assert.Contains(t, string(data), "slotupdate_primary=system1")
}

func TestSetStateThenStateRoundTrips(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "env.txt"))
	require.NoError(t, u.SetState(context.Background(), "system0", bootloader.StateOK))

	got, err := u.State(context.Background(), "system0")
	require.NoError(t, err)
	assert.Equal(t, bootloader.StateOK, got)
}

func TestMarkActiveSetsPrimaryAndTrying(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "env.txt"))
	require.NoError(t, u.Mark(context.Background(), "system1", bootloader.MarkActive))

	primary, err := u.Primary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "system1", primary)

	state, err := u.State(context.Background(), "system1")
	require.NoError(t, err)
	assert.Equal(t, bootloader.StateTrying, state)
}

func TestMarkBadSetsState(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "env.txt"))
	require.NoError(t, u.Mark(context.Background(), "system0", bootloader.MarkBad))

	state, err := u.State(context.Background(), "system0")
	require.NoError(t, err)
	assert.Equal(t, bootloader.StateBad, state)
}
