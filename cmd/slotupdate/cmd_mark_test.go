package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvo5/slotupdate/config"
)

func TestResolveBootnameAliasPassesThroughConcreteNames(t *testing.T) {
	rc := &runContext{System: &config.System{}}
	name, err := resolveBootnameAlias(rc, "system1")
	assert.NoError(t, err)
	assert.Equal(t, "system1", name)
}

// resolveBootnameAlias resolves "booted"/"other" against the token found
// by currentBootToken, which reads /proc/cmdline; since that file's
// content is not controllable from here, only the error path for a
// system with no matching bootname-bearing slots is exercised.
func TestResolveBootnameAliasFailsWithNoBootnamedSlots(t *testing.T) {
	rc := &runContext{System: &config.System{Slots: map[string]*config.Slot{
		"rootfs.0": {Name: "rootfs.0"},
	}}}
	_, err := resolveBootnameAlias(rc, "booted")
	assert.Error(t, err)
}
