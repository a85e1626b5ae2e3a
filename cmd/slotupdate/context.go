package main

import (
	"fmt"
	"os"

	"github.com/mvo5/slotupdate/bootloader"
	"github.com/mvo5/slotupdate/bootloader/grub"
	"github.com/mvo5/slotupdate/bootloader/uboot"
	"github.com/mvo5/slotupdate/bundle"
	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/logger"
)

// runContext is the process-wide singleton the original implementation's
// src/context.c models as a global: loaded config, keyring and steerer,
// built once per invocation and passed to whichever subcommand runs.
type runContext struct {
	System  *config.System
	Keyring *bundle.Keyring
	Steerer bootloader.Steerer
}

func loadContext(needKeyring bool) (*runContext, error) {
	if err := logger.Activate(opts.Debug, opts.Quiet); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: failed to activate logging: %s\n", err)
	}

	sys, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}

	rc := &runContext{System: sys}

	if needKeyring {
		kr, err := bundle.LoadKeyring(sys.Keyring)
		if err != nil {
			return nil, err
		}
		rc.Keyring = kr
	}

	steerer, err := steererFor(sys)
	if err != nil {
		return nil, err
	}
	rc.Steerer = steerer

	return rc, nil
}

func steererFor(sys *config.System) (bootloader.Steerer, error) {
	switch sys.Bootloader {
	case config.BootloaderUboot:
		return uboot.New("/boot/uboot/slotupdate-env.txt"), nil
	case config.BootloaderGrub:
		return grub.New("/boot/grub/grubenv"), nil
	case config.BootloaderBarebox, config.BootloaderEFI, config.BootloaderCustom:
		return nil, errs.New(errs.ConfigInvalidFormat, "bootloader kind %q has no built-in steerer", sys.Bootloader)
	default:
		return nil, errs.New(errs.ConfigInvalidFormat, "unknown bootloader kind %q", sys.Bootloader)
	}
}

func isRoot() bool {
	return os.Geteuid() == 0
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "slotupdate: "+format+"\n", args...)
	os.Exit(1)
}
