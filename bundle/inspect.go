package bundle

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/manifest"
)

// Info is the read-only result of Inspect: everything a pre-flight check
// or an "info" CLI subcommand needs to print without installing anything.
type Info struct {
	Path              string
	Size              int64
	HashTreeSize      int64
	SignatureVerified bool
	WasEncrypted      bool
	SignerFingerprint string
	Manifest          *manifest.Manifest
}

// Inspect implements the original implementation's r_bundle_info path
// (open, verify, parse, report) without installing anything. It is the
// same pipeline Install's "check-bundle"/"load-manifest" steps run,
// stopped before planning ever begins. A PLAIN bundle's manifest lives
// inside the payload, so inspecting one does briefly mount it (torn
// down again by Close) to read manifest.raucm; VERITY/CRYPT bundles
// carry their manifest in the signed trailer and are never mounted here.
func Inspect(src Source, kr *Keyring) (*Info, error) {
	b, err := Open(src)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	plain, err := b.ClassifyFormat()
	if err != nil {
		return nil, err
	}

	var m *manifest.Manifest
	if plain {
		if err := b.VerifyDetachedSignature(kr); err != nil {
			return nil, err
		}
		if err := Mount(context.Background(), b, nil, MountOptions{}); err != nil {
			return nil, err
		}
		manifestBytes, err := os.ReadFile(filepath.Join(b.MountPoint, "manifest.raucm"))
		if err != nil {
			return nil, errs.New(errs.ManifestParse, "read internal manifest: %v", err)
		}
		m, err = manifest.Parse(manifestBytes)
		if err != nil {
			return nil, err
		}
		if err := m.ValidateInternal(); err != nil {
			return nil, err
		}
	} else {
		manifestBytes, err := b.VerifySignature(kr)
		if err != nil {
			return nil, err
		}
		m, err = manifest.Parse(manifestBytes)
		if err != nil {
			return nil, err
		}
		if err := m.ValidateExternal(); err != nil {
			return nil, err
		}
	}
	b.Manifest = m

	return &Info{
		Path:              b.Path,
		Size:              b.Size,
		HashTreeSize:      b.HashTreeSize,
		SignatureVerified: b.SignatureVerified,
		WasEncrypted:      b.WasEncrypted,
		SignerFingerprint: b.SignerFingerprint,
		Manifest:          m,
	}, nil
}

// CheckCompatible reports whether the bundle's manifest is installable on
// a system advertising deviceCompatible. Exposed separately from Inspect
// so a CLI can print compatibility without requiring System to be loaded
// first.
func (i *Info) CheckCompatible(deviceCompatible string) error {
	return i.Manifest.CheckCompatible(deviceCompatible)
}
