package main

import "errors"

// errNeedRoot mirrors the teacher's cmd/snappy-go ErrRequiresRoot: several
// subcommands touch device storage and bootloader environment files that
// only root can write.
var errNeedRoot = errors.New("command requires root")
