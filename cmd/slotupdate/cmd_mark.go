package main

import (
	"context"
	"fmt"

	"github.com/mvo5/slotupdate/bootloader"
	"github.com/mvo5/slotupdate/errs"
)

// cmdMark implements the supplemented mark-good/mark-bad/mark-active
// operations (original_source/src/mark.c), addressing a slot by its
// bootname or by the aliases "booted"/"other".
type cmdMark struct {
	Positional struct {
		State    string `positional-arg-name:"state" description:"good, bad, or active"`
		Bootname string `positional-arg-name:"slot" description:"bootname, or booted/other"`
	} `positional-args:"yes" required:"yes"`
}

func init() {
	var cmdMarkData cmdMark
	_, _ = parser.AddCommand("mark",
		"Mark a slot good, bad, or active",
		"Set the try/ok/primary status the bootloader records for a slot",
		&cmdMarkData)
}

func (x *cmdMark) Execute(args []string) error {
	if !isRoot() {
		return errNeedRoot
	}

	rc, err := loadContext(false)
	if err != nil {
		return err
	}

	var mark bootloader.Mark
	switch x.Positional.State {
	case "good":
		mark = bootloader.MarkGood
	case "bad":
		mark = bootloader.MarkBad
	case "active":
		mark = bootloader.MarkActive
	default:
		return errs.New(errs.ConfigInvalidFormat, "unknown mark state %q (want good, bad or active)", x.Positional.State)
	}

	bootname, err := resolveBootnameAlias(rc, x.Positional.Bootname)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := rc.Steerer.Mark(ctx, bootname, mark); err != nil {
		return err
	}

	fmt.Printf("marked %s %s\n", bootname, x.Positional.State)
	return nil
}

// resolveBootnameAlias turns "booted"/"other" into a concrete bootname
// using the current boot token, the same alias pair the original
// implementation's mark command accepts.
func resolveBootnameAlias(rc *runContext, name string) (string, error) {
	if name != "booted" && name != "other" {
		return name, nil
	}

	token, err := currentBootToken()
	if err != nil {
		return "", err
	}

	var booted, other string
	for _, s := range rc.System.Slots {
		if s.Bootname == "" {
			continue
		}
		if s.Bootname == token || s.Name == token {
			booted = s.Bootname
		} else {
			other = s.Bootname
		}
	}

	if name == "booted" {
		if booted == "" {
			return "", fmt.Errorf("could not determine the booted slot's bootname")
		}
		return booted, nil
	}
	if other == "" {
		return "", fmt.Errorf("could not determine an other slot's bootname")
	}
	return other, nil
}
