// Package install is the top-level orchestrator: it wires together
// config, slot, bundle, handler, status, bootloader and worker into the
// single Install operation spec.md describes end to end, the way the
// teacher's snappy/install.go's doInstall ties together repository
// lookup, click unpacking and bootloader handling for its own domain.
package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvo5/slotupdate/bootloader"
	"github.com/mvo5/slotupdate/bundle"
	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/handler"
	"github.com/mvo5/slotupdate/internal/subprocess"
	"github.com/mvo5/slotupdate/logger"
	"github.com/mvo5/slotupdate/manifest"
	"github.com/mvo5/slotupdate/progress"
	"github.com/mvo5/slotupdate/slot"
	"github.com/mvo5/slotupdate/status"
	"github.com/mvo5/slotupdate/worker"
)

// Options configures one Install call.
type Options struct {
	System        *config.System
	BootToken     string // current boot's slot identifier, e.g. from /proc/cmdline
	Keyring       *bundle.Keyring
	CryptKey      []byte
	DeviceVariant string
	TrustEnv      bool
	IsRoot        bool
	Steerer       bootloader.Steerer
	Runner        subprocess.Runner
	StatusDir     string // per-slot mode; unused in central mode
	Meter         progress.Meter
	Updates       chan<- worker.Update

	// CustomHandlersFile, if set, is a handlers.yaml file of external
	// handler binaries registered before dispatch (handler.Registry).
	CustomHandlersFile string
}

// Result summarises a completed install.
type Result struct {
	Assignments   []slot.Assignment
	TransactionID string
}

// Install runs spec.md §5's full ordered pipeline: open and verify the
// bundle, load and validate its manifest (mounting first for a PLAIN
// bundle, whose manifest lives inside the payload), run the bundle-wide
// install-check hook, determine slot state and plan target slots, write
// every image through its handler (with the pre/post-install hook
// protocol and the mounted/install-same pre-checks), persist status,
// then steer the bootloader to try the new slots on next boot. It uses
// package worker to enforce the single-operation-at-a-time invariant and
// to publish progress on opts.Updates.
func Install(ctx context.Context, w *worker.Worker, bundlePath string, opts Options) (*Result, error) {
	if opts.Runner == nil {
		opts.Runner = subprocess.Exec
	}
	if opts.Meter == nil {
		opts.Meter = progress.MakeProgressBar("slotupdate")
	}

	bootID := status.CurrentBootID()
	txID := status.NewTransactionID()
	events := status.NewEventLog(txID, bootID)

	var (
		b       *bundle.Bundle
		topo    *slot.Topology
		group   slot.TargetGroup
		assigns []slot.Assignment
	)

	steps := []worker.Step{
		{Name: "check-bundle", Run: func(ctx context.Context) error {
			src, err := bundle.OpenLocal(bundlePath)
			if err != nil {
				return err
			}
			b, err = bundle.Open(src)
			if err != nil {
				src.Close()
				return err
			}
			if err := b.CheckExclusive(bundle.ExclusivityOptions{TrustEnv: opts.TrustEnv, IsRoot: opts.IsRoot}); err != nil {
				return err
			}
			events.Log(status.EventInstall, "bundle opened", "path", bundlePath)
			return nil
		}},
		{Name: "load-manifest", Run: func(ctx context.Context) error {
			plain, err := b.ClassifyFormat()
			if err != nil {
				return err
			}

			var m *manifest.Manifest
			if plain {
				if err := b.VerifyDetachedSignature(opts.Keyring); err != nil {
					return err
				}
				if err := bundle.Mount(ctx, b, opts.Runner, bundle.MountOptions{CryptKey: opts.CryptKey}); err != nil {
					return err
				}
				manifestBytes, err := os.ReadFile(filepath.Join(b.MountPoint, "manifest.raucm"))
				if err != nil {
					return errs.New(errs.ManifestParse, "read internal manifest: %v", err)
				}
				m, err = manifest.Parse(manifestBytes)
				if err != nil {
					return err
				}
				if err := m.ValidateInternal(); err != nil {
					return err
				}
			} else {
				manifestBytes, err := b.VerifySignature(opts.Keyring)
				if err != nil {
					return err
				}
				m, err = manifest.Parse(manifestBytes)
				if err != nil {
					return err
				}
				if err := m.ValidateExternal(); err != nil {
					return err
				}
			}

			if err := m.CheckCompatible(opts.System.Compatible); err != nil {
				return err
			}
			b.Manifest = m
			events.Log(status.EventInstall, "manifest loaded", "version", m.Version)
			return nil
		}},
		{Name: "mount-bundle", Run: func(ctx context.Context) error {
			// A PLAIN bundle already mounted itself during load-manifest
			// (its manifest lives inside the payload); VERITY/CRYPT
			// bundles mount here, now that their verity/crypt fields are
			// known.
			if b.MountPoint != "" {
				return nil
			}
			return bundle.Mount(ctx, b, opts.Runner, bundle.MountOptions{CryptKey: opts.CryptKey})
		}},
		{Name: "install-check", Run: func(ctx context.Context) error {
			return runInstallCheckHook(ctx, opts.Runner, b.Manifest.InstallCheckHook)
		}},
		{Name: "plan", Run: func(ctx context.Context) error {
			var err error
			topo, err = slot.DetermineStates(opts.System, opts.BootToken, nil)
			if err != nil {
				return err
			}
			group = topo.SelectTargetGroup()
			assigns, err = slot.MapImages(b.Manifest, group, opts.DeviceVariant)
			return err
		}},
		{Name: "write-images", Run: func(ctx context.Context) error {
			registry := handler.NewRegistry()
			if opts.CustomHandlersFile != "" {
				if err := handler.LoadCustomHandlersFile(registry, opts.CustomHandlersFile); err != nil {
					return err
				}
			}
			for _, a := range assigns {
				if err := writeOneImage(ctx, registry, b, a, opts, events); err != nil {
					return err
				}
			}
			return nil
		}},
		{Name: "steer-bootloader", Run: func(ctx context.Context) error {
			if opts.Steerer == nil {
				return nil
			}
			for _, a := range assigns {
				if a.Slot.Bootname == "" {
					continue
				}
				if err := opts.Steerer.Mark(ctx, a.Slot.Bootname, bootloader.MarkActive); err != nil {
					return errs.New(errs.InstallFailed, "steer bootloader to %s: %v", a.Slot.Bootname, err)
				}
				if err := bumpActivated(opts.StatusDir, a.Slot.Name); err != nil {
					logger.Warnf("record activation for %s: %v", a.Slot.Name, err)
				}
			}
			events.Log(status.EventBootSelection, "bootloader steered to new slots")
			return nil
		}},
	}

	err := w.Run(ctx, steps, opts.Updates)
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		events.Log(status.EventInstall, "install failed", "error", err.Error())
		return nil, err
	}

	events.Log(status.EventInstall, "install succeeded")
	return &Result{Assignments: assigns, TransactionID: txID}, nil
}

// runInstallCheckHook runs the manifest-wide install-check hook, if any,
// before planning ever touches slot state. A non-zero exit aborts the
// whole install with the hook's stderr carried verbatim, per the
// REJECTED_HOOK scenario.
func runInstallCheckHook(ctx context.Context, runner subprocess.Runner, hookPath string) error {
	if hookPath == "" {
		return nil
	}
	result, err := runner.Run(ctx, nil, hookPath, "install-check")
	if err != nil {
		return errs.New(errs.InstallRejectedHook, "install-check hook rejected update: %v (%s)", err, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

// runImageHook invokes a per-image pre-install/post-install hook. Images
// carry only a boolean flag; the script itself is the manifest's
// [handler] filename (the install-check hook is the separate [hooks]
// install-check entry), invoked with the lifecycle verb and the target
// slot name as arguments.
func runImageHook(ctx context.Context, runner subprocess.Runner, hookPath, verb, slotName string) error {
	if hookPath == "" {
		return errs.New(errs.InstallRejectedHook, "%s hook requested for slot %s but no [handler] filename is configured", verb, slotName)
	}
	result, err := runner.Run(ctx, nil, hookPath, verb, slotName)
	if err != nil {
		return errs.New(errs.InstallRejectedHook, "%s hook rejected: %v (%s)", verb, err, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

// procMountsPath is a package-level var rather than a constant so tests
// can point it at a synthetic mounts file, mirroring the teacher's
// pattern of swapping package-level function/variable seams for mocks
// instead of threading a path parameter through every caller.
var procMountsPath = "/proc/mounts"

// deviceIsMounted reports whether device appears as a mount source in
// /proc/mounts.
func deviceIsMounted(device string) (bool, error) {
	data, err := os.ReadFile(procMountsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.New(errs.InstallFailed, "read /proc/mounts: %v", err)
	}
	return isMountSource(data, device), nil
}

func isMountSource(data []byte, device string) bool {
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == device {
			return true
		}
	}
	return false
}

// bumpActivated records that a slot's current content was just selected
// for the next boot, distinct from installed-count (how many times
// content was written to it).
func bumpActivated(statusDir, slotName string) error {
	if statusDir == "" {
		return nil
	}
	path := status.PerSlotPath(statusDir, slotName)
	ss, err := status.ReadSlotStatus(path)
	if err != nil {
		return err
	}
	ss.ActivatedCount++
	ss.ActivatedTimestamp = time.Now().UTC().Format(time.RFC3339)
	return status.WriteSlotStatus(path, ss)
}

func writeOneImage(ctx context.Context, registry *handler.Registry, b *bundle.Bundle, a slot.Assignment, opts Options, events *status.EventLog) error {
	h, err := registry.Select(b.Manifest, a.Image, a.Slot)
	if err != nil {
		return err
	}

	mounted, err := deviceIsMounted(a.Slot.Device)
	if err != nil {
		return err
	}
	if mounted && !a.Slot.AllowMounted {
		return errs.New(errs.InstallReadonlySlot, "slot %s device %s is mounted and allow-mounted is not set", a.Slot.Name, a.Slot.Device)
	}

	prev := &status.SlotStatus{}
	if opts.StatusDir != "" {
		prev, err = status.ReadSlotStatus(status.PerSlotPath(opts.StatusDir, a.Slot.Name))
		if err != nil {
			return err
		}
	}

	if !a.Slot.InstallSame && prev.ChecksumSHA != "" &&
		prev.ChecksumAlgo == a.Image.Checksum.Algo && prev.ChecksumSHA == a.Image.Checksum.Digest {
		events.Log(status.EventWriteSlot, "skipped image, already installed", "slot", a.Slot.Name, "image", a.Image.Filename)
		return nil
	}

	if a.Image.Hooks.PreInstall {
		if err := runImageHook(ctx, opts.Runner, b.Manifest.HandlerName, "pre-install", a.Slot.Name); err != nil {
			return err
		}
	}

	imgPath := filepath.Join(b.MountPoint, a.Image.Filename)
	imgFile, err := os.Open(imgPath)
	if err != nil {
		return errs.Wrap(errs.New(errs.BundlePayload, "%v", err), "open image "+a.Image.Filename)
	}
	defer imgFile.Close()

	opts.Meter.Start(int64(a.Image.Checksum.Size))
	report := func(percent int) { opts.Meter.Set(int64(percent)) }

	if err := h.Write(ctx, a.Slot, imgFile, int64(a.Image.Checksum.Size), report); err != nil {
		return errs.Wrap(err, "write image "+a.Image.Filename)
	}
	opts.Meter.Finished()

	if a.Image.Hooks.PostInstall {
		if err := runImageHook(ctx, opts.Runner, b.Manifest.HandlerName, "post-install", a.Slot.Name); err != nil {
			return err
		}
	}

	events.Log(status.EventWriteSlot, "wrote image", "slot", a.Slot.Name, "image", a.Image.Filename)

	if opts.StatusDir != "" {
		ss := &status.SlotStatus{
			Status:             "ok",
			ChecksumAlgo:       a.Image.Checksum.Algo,
			ChecksumSHA:        a.Image.Checksum.Digest,
			InstalledAt:        time.Now().UTC().Format(time.RFC3339),
			BundleBuild:        b.Manifest.Build,
			BundleCompatible:   b.Manifest.UpdateCompatible,
			BundleVersion:      b.Manifest.Version,
			BundleDescription:  b.Manifest.Description,
			InstalledCount:     prev.InstalledCount + 1,
			ActivatedTimestamp: prev.ActivatedTimestamp,
			ActivatedCount:     prev.ActivatedCount,
		}
		if err := status.WriteSlotStatus(status.PerSlotPath(opts.StatusDir, a.Slot.Name), ss); err != nil {
			logger.Warnf("write slot status for %s: %v", a.Slot.Name, err)
		}
	}

	return nil
}
