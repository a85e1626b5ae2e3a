// Package status persists slot and system status across boots and
// installs (spec.md §6): each slot's last-known checksum/status, and a
// system-wide boot identifier used to detect a reboot since the last
// status write. Backed by the same goconfigparser key-file format as
// package config and package manifest, written atomically
// (temp-file-plus-rename, via internal/fsutil) so a crash mid-write never
// corrupts a previously good file.
package status

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mvo5/goconfigparser"

	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/fsutil"
)

// SlotStatus is one slot's persisted last-written state (spec.md §3's
// slot-status data model): the last image written to it, how many times
// it has been (re)installed, and how many times it has been activated
// (booted from, as opposed to merely written).
type SlotStatus struct {
	Status       string // "ok" or a handler-specific failure tag
	ChecksumAlgo string
	ChecksumSHA  string
	InstalledAt  string // RFC3339, empty if never installed by slotupdate
	BundleBuild  string

	BundleCompatible  string
	BundleVersion     string
	BundleDescription string

	InstalledCount     int
	ActivatedTimestamp string // RFC3339, empty if never activated
	ActivatedCount     int
}

// Marshal renders s as the body of a [slot.<name>] section (no header).
func (s *SlotStatus) marshal() string {
	var b strings.Builder
	if s.Status != "" {
		fmt.Fprintf(&b, "status=%s\n", s.Status)
	}
	if s.ChecksumAlgo == "sha256" && s.ChecksumSHA != "" {
		fmt.Fprintf(&b, "sha256=%s\n", s.ChecksumSHA)
	}
	if s.InstalledAt != "" {
		fmt.Fprintf(&b, "installed=%s\n", s.InstalledAt)
	}
	if s.BundleBuild != "" {
		fmt.Fprintf(&b, "bundle-build=%s\n", s.BundleBuild)
	}
	if s.BundleCompatible != "" {
		fmt.Fprintf(&b, "bundle-compatible=%s\n", s.BundleCompatible)
	}
	if s.BundleVersion != "" {
		fmt.Fprintf(&b, "bundle-version=%s\n", s.BundleVersion)
	}
	if s.BundleDescription != "" {
		fmt.Fprintf(&b, "bundle-description=%s\n", s.BundleDescription)
	}
	if s.InstalledCount != 0 {
		fmt.Fprintf(&b, "installed-count=%d\n", s.InstalledCount)
	}
	if s.ActivatedTimestamp != "" {
		fmt.Fprintf(&b, "activated-timestamp=%s\n", s.ActivatedTimestamp)
	}
	if s.ActivatedCount != 0 {
		fmt.Fprintf(&b, "activated-count=%d\n", s.ActivatedCount)
	}
	return b.String()
}

func parseSlotStatus(cfg *goconfigparser.ConfigParser, section string) *SlotStatus {
	ss := &SlotStatus{}
	ss.Status, _ = cfg.Get(section, "status")
	if digest, _ := cfg.Get(section, "sha256"); digest != "" {
		ss.ChecksumAlgo = "sha256"
		ss.ChecksumSHA = digest
	}
	ss.InstalledAt, _ = cfg.Get(section, "installed")
	ss.BundleBuild, _ = cfg.Get(section, "bundle-build")
	ss.BundleCompatible, _ = cfg.Get(section, "bundle-compatible")
	ss.BundleVersion, _ = cfg.Get(section, "bundle-version")
	ss.BundleDescription, _ = cfg.Get(section, "bundle-description")
	if v, _ := cfg.Get(section, "installed-count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ss.InstalledCount = n
		}
	}
	ss.ActivatedTimestamp, _ = cfg.Get(section, "activated-timestamp")
	if v, _ := cfg.Get(section, "activated-count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ss.ActivatedCount = n
		}
	}
	return ss
}

// ReadSlotStatus reads a per-slot status file (spec.md §6's per-slot
// persistence mode: one file per slot, conventionally at the path
// PerSlotPath returns).
func ReadSlotStatus(path string) (*SlotStatus, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = false
	if err := cfg.ReadFile(path); err != nil {
		if os.IsNotExist(err) {
			return &SlotStatus{}, nil
		}
		return nil, errs.New(errs.SlotFailed, "read slot status %s: %v", path, err)
	}
	return parseSlotStatus(cfg, "slot"), nil
}

// WriteSlotStatus writes a per-slot status file atomically.
func WriteSlotStatus(path string, ss *SlotStatus) error {
	data := "[slot]\n" + ss.marshal()
	if err := fsutil.AtomicWriteFile(path, []byte(data), 0644); err != nil {
		return errs.New(errs.SlotFailed, "write slot status %s: %v", path, err)
	}
	return nil
}

// System is the persisted system-wide status: spec.md §6's boot
// identifier, used to tell whether the device has rebooted since status
// was last written (and therefore whether a "trying" slot should now be
// considered confirmed or abandoned).
type System struct {
	BootID string
	// Slots holds every slot's status when status is kept in a single
	// central file rather than one file per slot.
	Slots map[string]*SlotStatus
}

// LoadSystem reads the central status file holding both system-wide and
// (in central mode) every slot's status. Callers compare
// config.System.StatusFile against "per-slot" themselves to decide
// whether to call this or ReadSlotStatus per slot; that string constant
// belongs to the config layer, not this one.
func LoadSystem(path string) (*System, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = false
	if err := cfg.ReadFile(path); err != nil {
		if os.IsNotExist(err) {
			return &System{Slots: map[string]*SlotStatus{}}, nil
		}
		return nil, moveAsideAndWarn(path, err)
	}

	sys := &System{Slots: map[string]*SlotStatus{}}
	sys.BootID, _ = cfg.Get("system", "boot-id")

	for _, section := range cfg.Sections() {
		if !strings.HasPrefix(section, "slot.") {
			continue
		}
		name := strings.TrimPrefix(section, "slot.")
		sys.Slots[name] = parseSlotStatus(cfg, section)
	}
	return sys, nil
}

// moveAsideAndWarn handles an unparseable central status file: it renames
// the file aside with a timestamp suffix, so a later LoadSystem finds no
// file and starts from an empty System, and returns a SlotFailed error naming the backup (or, if the
// rename fails, a SlotFailed error saying so). LoadSystem returns that
// error with no System.
func moveAsideAndWarn(path string, parseErr error) error {
	backup := fmt.Sprintf("%s.broken.%d", path, time.Now().Unix())
	if err := os.Rename(path, backup); err != nil {
		return errs.New(errs.SlotFailed, "status file %s is unreadable (%v) and could not be moved aside: %v", path, parseErr, err)
	}
	return errs.New(errs.SlotFailed, "status file %s was unreadable (%v); moved aside to %s and will be recreated", path, parseErr, backup)
}

// SaveSystem writes the central status file atomically.
func SaveSystem(path string, sys *System) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[system]\n")
	if sys.BootID != "" {
		fmt.Fprintf(&b, "boot-id=%s\n", sys.BootID)
	}
	for _, name := range sortedKeys(sys.Slots) {
		fmt.Fprintf(&b, "\n[slot.%s]\n%s", name, sys.Slots[name].marshal())
	}
	if err := fsutil.AtomicWriteFile(path, []byte(b.String()), 0644); err != nil {
		return errs.New(errs.SlotFailed, "write status %s: %v", path, err)
	}
	return nil
}

func sortedKeys(m map[string]*SlotStatus) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// CurrentBootID reads the kernel's own boot identifier, used to detect a
// reboot since the last status write. Falls back to a freshly generated
// uuid if /proc/sys/kernel/random/boot_id is unavailable (e.g. non-Linux
// test environments), mirroring the teacher's pattern of never failing
// hard on an environment quirk unrelated to the operation at hand.
func CurrentBootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// NewTransactionID mints an identifier for one install attempt, used to
// correlate event-log entries across the lifetime of a single update
// (spec.md's supplemented event-log feature; see EventLog).
func NewTransactionID() string {
	return uuid.NewString()
}

// PerSlotPath returns the conventional per-slot status file path,
// <statusDir>/<slotName>.status, keyed by slot name rather than by the
// slot's device path.
func PerSlotPath(statusDir, slotName string) string {
	return filepath.Join(statusDir, slotName+".status")
}
