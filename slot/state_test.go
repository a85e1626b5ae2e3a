package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/config"
)

func twoSlotSystem() *config.System {
	sys := &config.System{Slots: map[string]*config.Slot{}}
	sys.Slots["rootfs.0"] = &config.Slot{Name: "rootfs.0", Class: "rootfs", Device: "/dev/sda1", Bootname: "system0"}
	sys.Slots["rootfs.1"] = &config.Slot{Name: "rootfs.1", Class: "rootfs", Device: "/dev/sda2", Bootname: "system1"}
	return sys
}

func TestDetermineStatesByBootname(t *testing.T) {
	sys := twoSlotSystem()
	topo, err := DetermineStates(sys, "system0", nil)
	require.NoError(t, err)
	assert.Equal(t, StateBooted, topo.State("rootfs.0"))
	assert.Equal(t, StateInactive, topo.State("rootfs.1"))
}

func TestDetermineStatesByName(t *testing.T) {
	sys := twoSlotSystem()
	sys.Slots["rootfs.0"].Bootname = ""
	sys.Slots["rootfs.1"].Bootname = ""
	topo, err := DetermineStates(sys, "rootfs.1", nil)
	require.NoError(t, err)
	assert.Equal(t, StateBooted, topo.State("rootfs.1"))
}

func TestDetermineStatesByDevicePath(t *testing.T) {
	sys := twoSlotSystem()
	sys.Slots["rootfs.0"].Bootname = ""
	sys.Slots["rootfs.1"].Bootname = ""
	resolve := func(path string) (string, error) { return path, nil }
	topo, err := DetermineStates(sys, "/dev/sda2", resolve)
	require.NoError(t, err)
	assert.Equal(t, StateBooted, topo.State("rootfs.1"))
}

func TestDetermineStatesExternalBoot(t *testing.T) {
	sys := twoSlotSystem()
	topo, err := DetermineStates(sys, "/dev/nfs", nil)
	require.NoError(t, err)
	assert.Equal(t, StateBooted, topo.State("external"))
	require.NotNil(t, topo.External)
}

func TestDetermineStatesNoMatchIsError(t *testing.T) {
	sys := twoSlotSystem()
	_, err := DetermineStates(sys, "nonexistent", nil)
	assert.Error(t, err)
}

func TestDetermineStatesChildFollowsBootedRoot(t *testing.T) {
	sys := twoSlotSystem()
	sys.Slots["appfs.0"] = &config.Slot{Name: "appfs.0", Class: "appfs", Device: "/dev/sda3", Parent: sys.Slots["rootfs.0"]}
	sys.Slots["appfs.1"] = &config.Slot{Name: "appfs.1", Class: "appfs", Device: "/dev/sda4", Parent: sys.Slots["rootfs.1"]}

	topo, err := DetermineStates(sys, "system0", nil)
	require.NoError(t, err)
	assert.Equal(t, StateActive, topo.State("appfs.0"))
	assert.Equal(t, StateInactive, topo.State("appfs.1"))
}
