// Package manifest parses and validates the bundle manifest described in
// spec.md §3/§4.2: a restricted key-file with one [image.CLASS[.VARIANT]]
// section per image, parsed (like config.System) with
// github.com/mvo5/goconfigparser.
package manifest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/mvo5/slotupdate/errs"
)

// BundleFormat is one of the three container formats spec.md §3 allows.
type BundleFormat string

const (
	FormatPlain  BundleFormat = "plain"
	FormatVerity BundleFormat = "verity"
	FormatCrypt  BundleFormat = "crypt"
)

// Checksum is an image's declared content hash and size.
type Checksum struct {
	Algo   string
	Digest string
	Size   uint64
}

// Hooks records which per-image lifecycle hooks an image participates
// in. The bundle-wide install-check hook is Manifest.InstallCheckHook.
type Hooks struct {
	PreInstall  bool
	Install     bool
	PostInstall bool
}

// Image is one [image.CLASS[.VARIANT]] section.
type Image struct {
	SlotClass string
	Variant   string
	Filename  string
	Checksum  Checksum
	Hooks     Hooks
	// Adaptive names delta-assist artifacts available for this image,
	// e.g. "block-hash-index". Empty unless the manifest opts in.
	Adaptive []string

	order int // preserves declaration order for the planner's iteration
}

// Manifest is the parsed, not-yet-consistency-checked content of a
// manifest.raucm-equivalent file.
type Manifest struct {
	UpdateCompatible string
	Version          string
	Description      string
	Build            string

	BundleFormat BundleFormat

	// Verity fields: mandatory for external (verity/crypt) manifests,
	// absent for internal (plain) manifests.
	VeritySalt          string
	VerityRootHash       string
	VerityHashTreeSize   uint64
	CryptKey            string

	HandlerName string
	HandlerArgs string

	InstallCheckHook string // external hook script invoked before planning

	Images []*Image
}

// ImagesOrdered returns Images in the order they were declared in the
// manifest file (parsing already preserves this, but planner code should
// go through this accessor rather than assume Images is never reordered).
func (m *Manifest) ImagesOrdered() []*Image {
	out := append([]*Image(nil), m.Images...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Parse reads a manifest from raw key-file bytes. It performs structural
// parsing only; call ValidateInternal or ValidateExternal afterwards
// depending on which side of signing the manifest is on (spec.md §3).
func Parse(data []byte) (*Manifest, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = false
	if err := cfg.ReadString(string(data)); err != nil {
		return nil, errs.New(errs.ManifestParse, "%v", err)
	}

	m := &Manifest{}

	var err error
	m.UpdateCompatible, err = cfg.Get("update", "compatible")
	if err != nil || m.UpdateCompatible == "" {
		return nil, errs.New(errs.ManifestCompatible, "[update] compatible is required")
	}
	m.Version, _ = cfg.Get("update", "version")
	m.Description, _ = cfg.Get("update", "description")
	m.Build, _ = cfg.Get("update", "build")

	format, _ := cfg.Get("bundle", "format")
	switch BundleFormat(format) {
	case "":
		m.BundleFormat = FormatPlain
	case FormatPlain, FormatVerity, FormatCrypt:
		m.BundleFormat = BundleFormat(format)
	default:
		return nil, errs.New(errs.ManifestParse, "unknown bundle format %q", format)
	}

	m.VeritySalt, _ = cfg.Get("bundle", "verity-salt")
	m.VerityRootHash, _ = cfg.Get("bundle", "verity-hash")
	if v, _ := cfg.Get("bundle", "verity-size"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errs.New(errs.ManifestParse, "bundle.verity-size: %v", err)
		}
		m.VerityHashTreeSize = n
	}
	m.CryptKey, _ = cfg.Get("bundle", "crypt-key")

	m.HandlerName, _ = cfg.Get("handler", "filename")
	m.HandlerArgs, _ = cfg.Get("handler", "args")
	m.InstallCheckHook, _ = cfg.Get("hooks", "install-check")

	idx := 0
	for _, section := range cfg.Sections() {
		if !strings.HasPrefix(section, "image.") {
			continue
		}
		rest := strings.TrimPrefix(section, "image.")
		var class, variant string
		if i := strings.Index(rest, "."); i >= 0 {
			class, variant = rest[:i], rest[i+1:]
		} else {
			class = rest
		}
		if class == "" {
			return nil, errs.New(errs.ManifestParse, "empty slot class in section %q", section)
		}

		img := &Image{SlotClass: class, Variant: variant, order: idx}
		idx++

		img.Filename, err = cfg.Get(section, "filename")
		if err != nil || img.Filename == "" {
			return nil, errs.New(errs.ManifestChecksum, "image %s: filename is required", section)
		}

		if digest, _ := cfg.Get(section, "sha256"); digest != "" {
			img.Checksum.Algo = "sha256"
			img.Checksum.Digest = digest
		}
		if v, _ := cfg.Get(section, "size"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, errs.New(errs.ManifestChecksum, "image %s: size: %v", section, err)
			}
			img.Checksum.Size = n
		}

		img.Hooks.PreInstall = hasHook(cfg, section, "pre-install")
		img.Hooks.Install = hasHook(cfg, section, "install")
		img.Hooks.PostInstall = hasHook(cfg, section, "post-install")

		if adaptive, _ := cfg.Get(section, "adaptive"); adaptive != "" {
			img.Adaptive = strings.Fields(adaptive)
		}

		m.Images = append(m.Images, img)
	}

	return m, nil
}

func hasHook(cfg *goconfigparser.ConfigParser, section, key string) bool {
	v, err := cfg.Get(section, "hooks")
	if err != nil || v == "" {
		return false
	}
	for _, h := range strings.Split(v, ",") {
		if strings.TrimSpace(h) == key {
			return true
		}
	}
	return false
}

// ValidateInternal enforces spec.md §3's "internal manifest" invariant:
// every image has filename + checksum, and no bundle-verity fields are
// present. Internal manifests are the pre-sign, plain-format manifest
// that ships inside the payload.
func (m *Manifest) ValidateInternal() error {
	if m.VeritySalt != "" || m.VerityRootHash != "" || m.VerityHashTreeSize != 0 {
		return errs.New(errs.ManifestCheck, "internal manifest must not carry verity fields")
	}
	return m.validateImages()
}

// ValidateExternal enforces spec.md §3's "external manifest" invariant:
// as internal, plus verity salt/hash/size (and, for crypt, crypt-key).
func (m *Manifest) ValidateExternal() error {
	if err := m.validateImages(); err != nil {
		return err
	}
	if m.VeritySalt == "" || m.VerityRootHash == "" || m.VerityHashTreeSize == 0 {
		return errs.New(errs.ManifestCheck, "external manifest requires verity salt, hash and hash-tree size")
	}
	if m.BundleFormat == FormatCrypt && m.CryptKey == "" {
		return errs.New(errs.ManifestCheck, "crypt bundle requires bundle.crypt-key")
	}
	return nil
}

func (m *Manifest) validateImages() error {
	if len(m.Images) == 0 {
		return errs.New(errs.ManifestNoData, "manifest has no images")
	}
	for _, img := range m.Images {
		if img.Filename == "" {
			return errs.New(errs.ManifestChecksum, "image %s: missing filename", img.SlotClass)
		}
		if img.Checksum.Digest == "" || img.Checksum.Size == 0 {
			return errs.New(errs.ManifestChecksum, "image %s: missing checksum", img.SlotClass)
		}
	}
	return nil
}

// CheckCompatible verifies the manifest's declared compatible string
// matches the device's, as required by spec.md §4.2.
func (m *Manifest) CheckCompatible(deviceCompatible string) error {
	if m.UpdateCompatible != deviceCompatible {
		return errs.New(errs.ManifestCompatible, "bundle compatible %q does not match device compatible %q", m.UpdateCompatible, deviceCompatible)
	}
	return nil
}
