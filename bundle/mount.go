package bundle

import (
	"context"
	"os"
	"strings"

	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/subprocess"
	"github.com/mvo5/slotupdate/manifest"
)

// mountResources tracks every loop device and device-mapper target set up
// underneath a mounted Bundle, so Unmount can tear them down in reverse
// order. Kept off the exported Bundle fields since none of it is
// meaningful once Close/Unmount has run.
type mountResources struct {
	tmpDir  string
	loopDev string
	dmName  string
	runner  subprocess.Runner // the runner Mount used, reused for teardown
}

// MountOptions carries the bits Mount needs beyond what Open/VerifySignature
// already populated on the Bundle.
type MountOptions struct {
	// CryptKey is the symmetric key for a CRYPT-format bundle's dm-crypt
	// mapping. Unused for PLAIN/VERITY bundles.
	CryptKey []byte
}

// Mount implements spec.md §4.1's final step: stack loop/dm-verity/dm-crypt
// as the manifest's bundle-format requires and loop-mount the resulting
// read-only squashfs payload, recording b.MountPoint. Every step shells out
// to the real tool (losetup, veritysetup, cryptsetup, mount) rather than
// reimplementing any of them in-process, matching spec.md §9's guidance
// to model externally-owned setup/teardown behind subprocess calls.
func Mount(ctx context.Context, b *Bundle, runner subprocess.Runner, opts MountOptions) (err error) {
	if runner == nil {
		runner = subprocess.Exec
	}
	// A PLAIN bundle's manifest lives inside the payload, so Mount runs
	// before it is known; treat a nil manifest as plain (default: loop
	// device, no verity/crypt target).
	format := manifest.FormatPlain
	if b.Manifest != nil {
		format = b.Manifest.BundleFormat
	}
	if !b.src.Local() {
		return errs.New(errs.BundleMount, "mounting requires a local file")
	}
	if b.MountPoint != "" {
		return errs.New(errs.BundleMount, "bundle already mounted at %s", b.MountPoint)
	}

	res := &mountResources{runner: runner}
	defer func() {
		if err != nil {
			teardown(ctx, runner, res)
		}
	}()

	tmpDir, mkErr := os.MkdirTemp("", "slotupdate-mount-")
	if mkErr != nil {
		return errs.New(errs.BundleMount, "create mount point: %v", mkErr)
	}
	res.tmpDir = tmpDir

	switch format {
	case manifest.FormatVerity:
		target, mountErr := mountVerity(ctx, runner, b, res)
		if mountErr != nil {
			return mountErr
		}
		if mErr := runMount(ctx, runner, target, tmpDir, true); mErr != nil {
			return mErr
		}
	case manifest.FormatCrypt:
		target, mountErr := mountCrypt(ctx, runner, b, res, opts.CryptKey)
		if mountErr != nil {
			return mountErr
		}
		if mErr := runMount(ctx, runner, target, tmpDir, true); mErr != nil {
			return mErr
		}
	default:
		loopDev, loopErr := attachLoop(ctx, runner, b.Path, 0, b.Size, true)
		if loopErr != nil {
			return loopErr
		}
		res.loopDev = loopDev
		if mErr := runMount(ctx, runner, loopDev, tmpDir, true); mErr != nil {
			return mErr
		}
	}

	b.MountPoint = tmpDir
	b.mount = res
	return nil
}

func mountVerity(ctx context.Context, runner subprocess.Runner, b *Bundle, res *mountResources) (string, error) {
	whole, err := attachLoop(ctx, runner, b.Path, 0, b.Size+b.HashTreeSize, true)
	if err != nil {
		return "", err
	}
	res.loopDev = whole

	dmName := dmTargetName(b)
	args := []string{"open", whole, dmName, whole,
		strings.ToLower(strings.TrimSpace(b.Manifest.VerityRootHash)),
		"--hash-offset=" + itoa64(b.Size),
	}
	if b.Manifest.VeritySalt != "" {
		args = append(args, "--salt="+b.Manifest.VeritySalt)
	}
	result, err := runner.Run(ctx, nil, "veritysetup", args...)
	if err != nil {
		return "", errs.New(errs.BundleMount, "veritysetup open: %v (%s)", err, strings.TrimSpace(string(result.Stderr)))
	}
	res.dmName = dmName
	return "/dev/mapper/" + dmName, nil
}

func mountCrypt(ctx context.Context, runner subprocess.Runner, b *Bundle, res *mountResources, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errs.New(errs.BundleCrypt, "crypt bundle requires a key")
	}
	loopDev, err := attachLoop(ctx, runner, b.Path, 0, b.Size, false)
	if err != nil {
		return "", err
	}
	res.loopDev = loopDev

	dmName := dmTargetName(b)
	result, err := runner.Run(ctx, key, "cryptsetup",
		"open", "--type", "plain", "--key-file", "-", loopDev, dmName)
	if err != nil {
		return "", errs.New(errs.BundleCrypt, "cryptsetup open: %v (%s)", err, strings.TrimSpace(string(result.Stderr)))
	}
	res.dmName = dmName
	return "/dev/mapper/" + dmName, nil
}

func attachLoop(ctx context.Context, runner subprocess.Runner, path string, offset, size int64, readOnly bool) (string, error) {
	args := []string{"--find", "--show",
		"--offset", itoa64(offset),
		"--sizelimit", itoa64(size),
	}
	if readOnly {
		args = append(args, "--read-only")
	}
	args = append(args, path)

	result, err := runner.Run(ctx, nil, "losetup", args...)
	if err != nil {
		return "", errs.New(errs.BundleMount, "losetup: %v (%s)", err, strings.TrimSpace(string(result.Stderr)))
	}
	dev := strings.TrimSpace(string(result.Stdout))
	if dev == "" {
		return "", errs.New(errs.BundleMount, "losetup returned no device path")
	}
	return dev, nil
}

func runMount(ctx context.Context, runner subprocess.Runner, source, target string, readOnly bool) error {
	opt := "rw"
	if readOnly {
		opt = "ro"
	}
	result, err := runner.Run(ctx, nil, "mount", "-o", opt, "-t", "squashfs", source, target)
	if err != nil {
		return errs.New(errs.BundleMount, "mount %s: %v (%s)", source, err, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

func dmTargetName(b *Bundle) string {
	base := "slotupdate"
	if b.Manifest != nil && b.Manifest.Version != "" {
		base += "-" + sanitizeDMName(b.Manifest.Version)
	}
	return base
}

func sanitizeDMName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-' || c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Unmount tears down everything Mount set up, in reverse order, tolerating
// a bundle that was never mounted.
func Unmount(b *Bundle) error {
	if b.mount == nil {
		return nil
	}
	err := teardown(context.Background(), b.mount.runner, b.mount)
	b.MountPoint = ""
	b.mount = nil
	return err
}

func teardown(ctx context.Context, runner subprocess.Runner, res *mountResources) error {
	if runner == nil {
		runner = subprocess.Exec
	}
	var firstErr error

	if res.tmpDir != "" {
		if _, err := runner.Run(ctx, nil, "umount", res.tmpDir); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if res.dmName != "" {
		if _, err := runner.Run(ctx, nil, "dmsetup", "remove", res.dmName); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if res.loopDev != "" {
		if _, err := runner.Run(ctx, nil, "losetup", "-d", res.loopDev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if res.tmpDir != "" {
		_ = os.Remove(res.tmpDir)
	}
	return firstErr
}
