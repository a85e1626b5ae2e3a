package main

import (
	"context"

	"github.com/mvo5/slotupdate/bootloader"
)

// cmdBooted mirrors the teacher's cmd_booted.go: flag that the current
// boot succeeded, so the bootloader stops counting try attempts against
// it. Typically run once from an early-boot service, not by hand.
type cmdBooted struct {
}

func init() {
	var cmdBootedData cmdBooted
	_, _ = parser.AddCommand("booted",
		"Flag that the current slot booted successfully",
		"Not necessary to run this command manually",
		&cmdBootedData)
}

func (x *cmdBooted) Execute(args []string) error {
	if !isRoot() {
		return errNeedRoot
	}

	rc, err := loadContext(false)
	if err != nil {
		return err
	}

	token, err := currentBootToken()
	if err != nil {
		return err
	}
	bootname, err := resolveBootnameAlias(rc, "booted")
	if err != nil {
		// no alias-resolvable slot; fall back to the raw boot token
		bootname = token
	}

	return rc.Steerer.Mark(context.Background(), bootname, bootloader.MarkGood)
}
