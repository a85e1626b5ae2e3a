package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/download"
	"github.com/mvo5/slotupdate/install"
	"github.com/mvo5/slotupdate/progress"
	"github.com/mvo5/slotupdate/worker"
)

type cmdInstall struct {
	HandlersFile string `long:"handlers" description:"path to a handlers.yaml file of custom update handlers" default:"/etc/slotupdate/handlers.yaml"`

	Positional struct {
		Bundle string `positional-arg-name:"bundle" description:"path, or http(s):// URL, of a bundle"`
	} `positional-args:"yes" required:"yes"`
}

func deviceVariant(sys *config.System) string {
	v, err := sys.Variant(readDTBCompatible, func(path string) (string, error) {
		data, err := os.ReadFile(path)
		return string(data), err
	})
	if err != nil {
		return ""
	}
	return v
}

func readDTBCompatible() (string, error) {
	data, err := os.ReadFile("/proc/device-tree/compatible")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// resolveBundlePath downloads bundle first if it names an http(s) URL,
// per spec.md §1's "bundle may be fetched from a remote source before
// the install pipeline ever sees it" note; local paths pass through
// unchanged.
func resolveBundlePath(bundle string, maxBytes uint64) (path string, cleanup func(), err error) {
	if !strings.HasPrefix(bundle, "http://") && !strings.HasPrefix(bundle, "https://") {
		return bundle, func() {}, nil
	}

	fetcher := download.NewHTTPFetcher(nil)
	path, err = fetcher.Fetch(context.Background(), bundle, maxBytes)
	if err != nil {
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}

func init() {
	var cmdInstallData cmdInstall
	_, _ = parser.AddCommand("install",
		"Install a bundle",
		"Verify, plan and install the given bundle onto the inactive slot set",
		&cmdInstallData)
}

func (x *cmdInstall) Execute(args []string) error {
	if !isRoot() {
		return errNeedRoot
	}

	rc, err := loadContext(true)
	if err != nil {
		return err
	}

	bootToken, err := currentBootToken()
	if err != nil {
		return err
	}

	statusDir := ""
	if rc.System.StatusFile == "per-slot" {
		statusDir = rc.System.DataDirectory
	}

	bundlePath, cleanup, err := resolveBundlePath(x.Positional.Bundle, rc.System.MaxBundleDownloadSize)
	if err != nil {
		return err
	}
	defer cleanup()

	w := worker.New()
	updates := make(chan worker.Update, 16)
	meter := progress.MakeProgressBar("slotupdate")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			if u.Err != nil {
				meter.Notify(fmt.Sprintf("%s: %v", u.Step, u.Err))
				continue
			}
			if !u.Done {
				meter.Notify(fmt.Sprintf("%s: done", u.Step))
			}
		}
	}()

	result, err := install.Install(context.Background(), w, bundlePath, install.Options{
		System:    rc.System,
		BootToken: bootToken,
		Keyring:   rc.Keyring,
		IsRoot:    true,
		TrustEnv:  os.Getenv("TRUST_ENV") != "",
		Steerer:   rc.Steerer,
		StatusDir:          statusDir,
		DeviceVariant:      deviceVariant(rc.System),
		Meter:              meter,
		Updates:            updates,
		CustomHandlersFile: x.HandlersFile,
	})
	close(updates)
	<-done
	if err != nil {
		return err
	}

	fmt.Printf("Installed %d image(s), transaction %s:\n", len(result.Assignments), result.TransactionID)
	for _, a := range result.Assignments {
		fmt.Printf("  %s -> %s (%s)\n", a.Image.Filename, a.Slot.Name, humanize.Bytes(uint64(a.Image.Checksum.Size)))
	}
	return nil
}

// currentBootToken reads /proc/cmdline and extracts the boot-slot token
// in spec.md §4.2's precedence order: slotupdate.slot=<name> beats
// root=<device>, and slotupdate.external beats root=/dev/nfs.
func currentBootToken() (string, error) {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))

	var slotArg, rootArg string
	external := false
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "slotupdate.slot="):
			if slotArg == "" {
				slotArg = strings.TrimPrefix(f, "slotupdate.slot=")
			}
		case f == "slotupdate.external":
			external = true
		case strings.HasPrefix(f, "root="):
			rootArg = strings.TrimPrefix(f, "root=")
		}
	}
	switch {
	case slotArg != "":
		return slotArg, nil
	case rootArg != "" && rootArg != "/dev/nfs":
		return rootArg, nil
	case external:
		return "_external_", nil
	}
	return rootArg, nil
}
