// Package config loads the device-fixed system configuration key-file
// (spec.md §6) and validates the slot topology graph it describes. It is
// the "Config & Topology" component of spec.md §2: the leaf every later
// stage depends on.
//
// The key-file itself is parsed with github.com/mvo5/goconfigparser, the
// same library the teacher uses for /boot/uboot/snappy-system.txt
// (partition/bootloader_uboot.go) and its own config.cfg.
package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/mvo5/slotupdate/errs"
)

// BootloaderKind names one of the supported bootloader-steering backends.
// The concrete implementation lives behind the bootloader.Steerer
// interface (spec.md §6); config only records which one the device uses.
type BootloaderKind string

const (
	BootloaderBarebox BootloaderKind = "barebox"
	BootloaderUboot   BootloaderKind = "uboot"
	BootloaderGrub    BootloaderKind = "grub"
	BootloaderEFI     BootloaderKind = "efi"
	BootloaderCustom  BootloaderKind = "custom"
)

// Keyring describes where bundle-signature verification keys live.
type Keyring struct {
	Path                 string // single file of armored/PEM-style keys
	Directory            string // directory of individual key files
	CheckCRL             bool
	AllowPartialChain    bool
	UseBundleSigningTime bool
	CheckPurpose         string
}

// Slot is one device-fixed storage region, as declared by a
// [slot.CLASS.INDEX] section. Parent is resolved (and normalised to point
// at the class's root slot, never an intermediate) by Load.
type Slot struct {
	Name    string // "class.index"
	Class   string
	Device  string
	Type    string // fstype tag, e.g. "ext4", "raw", "boot-mbr-switch"
	Bootname string

	ParentName string // as written in the config file, before resolution
	Parent     *Slot  // resolved root slot, nil for a root slot itself

	Readonly       bool
	InstallSame    bool
	AllowMounted   bool
	ExtraMountOpts string
	Resize         bool

	RegionStart uint64
	RegionSize  uint64
}

// IsRoot reports whether the slot has no parent, i.e. it is addressed
// directly by the bootloader.
func (s *Slot) IsRoot() bool { return s.Parent == nil }

// RootName returns the name of the slot that carries boot/active/booted
// state for this slot: itself if it is a root slot, else its parent.
func (s *Slot) RootName() string {
	if s.Parent != nil {
		return s.Parent.Name
	}
	return s.Name
}

// System is the fully parsed, validated device configuration.
type System struct {
	Compatible  string
	Bootloader  BootloaderKind
	MountPrefix string
	// StatusFile is either "per-slot" (status.PerSlot mode) or an
	// absolute path to the central status key-file.
	StatusFile string

	DataDirectory         string
	BundleFormats         map[string]bool // resolved set after +/- modifiers
	BootAttempts          int
	BootAttemptsPrimary   int
	MaxBundleDownloadSize uint64
	ActivateInstalled     bool

	VariantDTB  string
	VariantFile string
	VariantName string

	PerformPreCheck bool

	Keyring Keyring

	// Slots is keyed by slot name ("class.index").
	Slots map[string]*Slot
}

// Variant resolves the device's configured variant using whichever of
// variant-dtb/variant-file/variant-name was set (the three are mutually
// exclusive, enforced by Load).
func (s *System) Variant(dtbCompatible func() (string, error), readFile func(string) (string, error)) (string, error) {
	switch {
	case s.VariantName != "":
		return s.VariantName, nil
	case s.VariantFile != "":
		v, err := readFile(s.VariantFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(v), nil
	case s.VariantDTB != "":
		return dtbCompatible()
	default:
		return "", nil
	}
}

// RootClasses returns, in stable sorted order, the set of slot classes
// that have no parent (i.e. are addressed directly by the bootloader).
func (s *System) RootClasses() []string {
	seen := map[string]bool{}
	for _, slot := range s.Slots {
		if slot.IsRoot() {
			seen[slot.Class] = true
		}
	}
	return sortedKeys(seen)
}

// ChildClasses returns, in stable sorted order, classes whose slots are
// all children of some root slot.
func (s *System) ChildClasses() []string {
	seen := map[string]bool{}
	for _, slot := range s.Slots {
		if !slot.IsRoot() {
			seen[slot.Class] = true
		}
	}
	return sortedKeys(seen)
}

// SlotsByClass returns the slots of the given class, in stable sorted
// (by name) order.
func (s *System) SlotsByClass(class string) []*Slot {
	var out []*Slot
	for _, slot := range s.Slots {
		if slot.Class == class {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load parses and validates the system config key-file at path.
func Load(path string) (*System, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = false
	if err := cfg.ReadFile(path); err != nil {
		return nil, errs.Wrap(errs.New(errs.ConfigInvalidFormat, "%v", err), "config: read")
	}
	return fromParser(cfg)
}

// LoadString parses system config from an in-memory key-file, used by
// tests and by bundle tools that ship a config fragment alongside a
// manifest, mirroring the teacher's own cfg.ReadString use for parsing
// grub-editenv output in partition/bootloader_grub.go.
func LoadString(data string) (*System, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = false
	if err := cfg.ReadString(data); err != nil {
		return nil, errs.Wrap(errs.New(errs.ConfigInvalidFormat, "%v", err), "config: read")
	}
	return fromParser(cfg)
}

func fromParser(cfg *goconfigparser.ConfigParser) (*System, error) {
	sys := &System{
		BundleFormats: map[string]bool{"plain": true, "verity": true, "crypt": true},
		Slots:         map[string]*Slot{},
	}

	compat, err := cfg.Get("system", "compatible")
	if err != nil || compat == "" {
		return nil, errs.New(errs.ManifestEmptyString, "system.compatible is required")
	}
	sys.Compatible = compat

	bl, err := cfg.Get("system", "bootloader")
	if err != nil || bl == "" {
		return nil, errs.New(errs.ConfigBootloader, "system.bootloader is required")
	}
	switch BootloaderKind(bl) {
	case BootloaderBarebox, BootloaderUboot, BootloaderGrub, BootloaderEFI, BootloaderCustom:
		sys.Bootloader = BootloaderKind(bl)
	default:
		return nil, errs.New(errs.ConfigBootloader, "unknown bootloader %q", bl)
	}

	sys.MountPrefix, _ = cfg.Get("system", "mountprefix")
	if sys.MountPrefix == "" {
		sys.MountPrefix = "/mnt/slotupdate"
	}

	sys.StatusFile, _ = cfg.Get("system", "statusfile")
	if sys.StatusFile == "" {
		sys.StatusFile = "per-slot"
	}

	sys.DataDirectory, _ = cfg.Get("system", "data-directory")

	if formats, _ := cfg.Get("system", "bundle-formats"); formats != "" {
		resolved, err := ParseBundleFormats(formats)
		if err != nil {
			return nil, err
		}
		sys.BundleFormats = resolved
	}

	if v, _ := cfg.Get("system", "boot-attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.New(errs.ConfigInvalidFormat, "boot-attempts: %v", err)
		}
		sys.BootAttempts = n
	}
	if v, _ := cfg.Get("system", "boot-attempts-primary"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.New(errs.ConfigInvalidFormat, "boot-attempts-primary: %v", err)
		}
		sys.BootAttemptsPrimary = n
	}
	if v, _ := cfg.Get("system", "max-bundle-download-size"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errs.New(errs.ConfigMaxBundleDownloadSize, "%v", err)
		}
		sys.MaxBundleDownloadSize = n
	}
	if v, err := cfg.GetBool("system", "activate-installed"); err == nil {
		sys.ActivateInstalled = v
	}
	if v, err := cfg.GetBool("system", "perform-pre-check"); err == nil {
		sys.PerformPreCheck = v
	}

	sys.VariantDTB, _ = cfg.Get("system", "variant-dtb")
	sys.VariantFile, _ = cfg.Get("system", "variant-file")
	sys.VariantName, _ = cfg.Get("system", "variant-name")
	if nonEmptyCount(sys.VariantDTB, sys.VariantFile, sys.VariantName) > 1 {
		return nil, errs.New(errs.ConfigInvalidFormat, "variant-dtb, variant-file and variant-name are mutually exclusive")
	}

	sys.Keyring.Path, _ = cfg.Get("keyring", "path")
	sys.Keyring.Directory, _ = cfg.Get("keyring", "directory")
	sys.Keyring.CheckCRL, _ = cfg.GetBool("keyring", "check-crl")
	sys.Keyring.AllowPartialChain, _ = cfg.GetBool("keyring", "allow-partial-chain")
	sys.Keyring.UseBundleSigningTime, _ = cfg.GetBool("keyring", "use-bundle-signing-time")
	sys.Keyring.CheckPurpose, _ = cfg.Get("keyring", "check-purpose")

	if err := loadSlots(cfg, sys); err != nil {
		return nil, err
	}
	if err := validateTopology(sys); err != nil {
		return nil, err
	}

	return sys, nil
}

func nonEmptyCount(vals ...string) int {
	n := 0
	for _, v := range vals {
		if v != "" {
			n++
		}
	}
	return n
}

func loadSlots(cfg *goconfigparser.ConfigParser, sys *System) error {
	for _, section := range cfg.Sections() {
		if !strings.HasPrefix(section, "slot.") {
			continue
		}
		parts := strings.SplitN(section, ".", 3)
		if len(parts) != 3 {
			return errs.New(errs.ConfigInvalidFormat, "malformed slot section %q", section)
		}
		class, index := parts[1], parts[2]
		name := class + "." + index

		slot := &Slot{Name: name, Class: class}
		var err error
		slot.Device, err = cfg.Get(section, "device")
		if err != nil || slot.Device == "" {
			return errs.New(errs.ConfigInvalidDevice, "slot %s: device is required", name)
		}
		slot.Type, _ = cfg.Get(section, "type")
		slot.Bootname, _ = cfg.Get(section, "bootname")
		slot.ParentName, _ = cfg.Get(section, "parent")
		slot.Readonly, _ = cfg.GetBool(section, "readonly")
		slot.InstallSame, _ = cfg.GetBool(section, "install-same")
		slot.AllowMounted, _ = cfg.GetBool(section, "allow-mounted")
		slot.ExtraMountOpts, _ = cfg.Get(section, "extra-mount-opts")
		slot.Resize, _ = cfg.GetBool(section, "resize")

		if v, _ := cfg.Get(section, "region-start"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return errs.New(errs.ConfigInvalidFormat, "slot %s: region-start: %v", name, err)
			}
			slot.RegionStart = n
		}
		if v, _ := cfg.Get(section, "region-size"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return errs.New(errs.ConfigInvalidFormat, "slot %s: region-size: %v", name, err)
			}
			slot.RegionSize = n
		}

		sys.Slots[name] = slot
	}
	return nil
}

// validateTopology enforces spec.md §3's invariants: no duplicate
// bootnames, no parent loops, children have no bootname, and every
// child's Parent is normalised to point at the class's root slot (never
// an intermediate).
func validateTopology(sys *System) error {
	bootnames := map[string]string{}
	for _, slot := range sys.Slots {
		if slot.Bootname == "" {
			continue
		}
		if existing, ok := bootnames[slot.Bootname]; ok {
			return errs.New(errs.ConfigDuplicateBootname, "bootname %q used by both %s and %s", slot.Bootname, existing, slot.Name)
		}
		bootnames[slot.Bootname] = slot.Name
	}

	// Resolve parent chains, detecting loops, then normalise each
	// slot's Parent pointer to the root of its chain.
	for _, slot := range sys.Slots {
		if slot.ParentName == "" {
			continue
		}
		if slot.Bootname != "" {
			return errs.New(errs.ConfigChildHasBootname, "slot %s has a parent but also a bootname", slot.Name)
		}

		visited := map[string]bool{slot.Name: true}
		cur := slot.ParentName
		for {
			if visited[cur] {
				return errs.New(errs.ConfigParentLoop, "parent loop involving slot %s", slot.Name)
			}
			visited[cur] = true

			parent, ok := sys.Slots[cur]
			if !ok {
				return errs.New(errs.ConfigParent, "slot %s: parent %q does not exist", slot.Name, cur)
			}
			if parent.ParentName == "" {
				slot.Parent = parent
				break
			}
			cur = parent.ParentName
		}
	}

	return nil
}

// ParseBundleFormats implements spec.md §8's testable property: parsing is
// order-independent for a bare set assignment ("plain verity"), but
// left-to-right for +/- modifiers ("+crypt -plain"); mixing a bare
// assignment with a modifier in the same string is an error.
func ParseBundleFormats(spec string) (map[string]bool, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return nil, errs.New(errs.ConfigInvalidFormat, "empty bundle-formats")
	}

	hasModifier := false
	hasBare := false
	for _, f := range fields {
		if strings.HasPrefix(f, "+") || strings.HasPrefix(f, "-") {
			hasModifier = true
		} else {
			hasBare = true
		}
	}
	if hasModifier && hasBare {
		return nil, errs.New(errs.ConfigInvalidFormat, "bundle-formats mixes a set assignment with +/- modifiers: %q", spec)
	}

	if hasBare {
		result := map[string]bool{"plain": false, "verity": false, "crypt": false}
		for _, f := range fields {
			if !validFormat(f) {
				return nil, errs.New(errs.ConfigInvalidFormat, "unknown bundle format %q", f)
			}
			result[f] = true
		}
		return result, nil
	}

	// modifier case: start from the "all enabled" default and apply
	// left to right.
	result := map[string]bool{"plain": true, "verity": true, "crypt": true}
	for _, f := range fields {
		name := f[1:]
		if !validFormat(name) {
			return nil, errs.New(errs.ConfigInvalidFormat, "unknown bundle format %q", name)
		}
		result[name] = f[0] == '+'
	}
	return result, nil
}

func validFormat(f string) bool {
	switch f {
	case "plain", "verity", "crypt":
		return true
	default:
		return false
	}
}
