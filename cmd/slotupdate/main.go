// Command slotupdate is the operator-facing CLI: install a bundle, mark
// the current boot good or bad, report status, and inspect a bundle
// without installing it. Structured the way the teacher's cmd/snappy-go
// is: a single go-flags parser and one file per subcommand, each of
// whose Execute builds its run context with loadContext.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/mvo5/slotupdate/logger"
)

type globalOptions struct {
	Config string `long:"config" description:"path to the system configuration key-file" default:"/etc/slotupdate/system.conf"`
	Debug  bool   `long:"debug" description:"enable debug logging"`
	Quiet  bool   `long:"quiet" description:"suppress all but warning/error logging"`
}

var opts globalOptions

var parser = flags.NewParser(&opts, flags.Default)

func init() {
	if err := logger.Activate(false, false); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: failed to activate logging: %s\n", err)
	}
}

func main() {
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
