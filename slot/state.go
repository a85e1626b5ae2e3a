// Package slot determines runtime slot state from a boot identifier,
// selects the target install group, and maps manifest images onto target
// slots (spec.md §4.2, the "Manifest & Planner" component). It operates
// on the static topology loaded by package config.
package slot

import (
	"path/filepath"
	"sort"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
)

// State is a slot's runtime boot state (spec.md §3). At most one slot
// (or the synthetic "external" slot) ever has state Booted.
type State int

const (
	StateUnknown State = iota
	StateInactive
	StateActive
	StateBooted
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateBooted:
		return "booted"
	default:
		return "unknown"
	}
}

// externalSlotName and the two boot tokens that trigger the synthetic
// external-boot slot, per spec.md §4.2 step 2.
const (
	externalSlotName  = "external"
	externalSlotClass = "virtual"
	tokenDevNFS       = "/dev/nfs"
	tokenExternal     = "_external_"
)

// Topology is a config.System annotated with the runtime state computed
// for the current boot.
type Topology struct {
	System *config.System
	States map[string]State

	// External is non-nil only when the system booted from an
	// unmanaged source (NFS or an external bootloader override); it is
	// a synthetic slot present in States but not in System.Slots.
	External *config.Slot
}

// State returns the runtime state of the named slot (including the
// synthetic "external" slot when present).
func (t *Topology) State(name string) State {
	return t.States[name]
}

// PathResolver resolves a device path to its canonical real path, so a
// boot token that names a symlinked device still matches. Production
// code uses filepath.EvalSymlinks; tests inject a fake.
type PathResolver func(path string) (string, error)

func defaultResolver(path string) (string, error) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path, nil // unresolvable devices just don't match by path
	}
	return real, nil
}

// DetermineStates implements spec.md §4.2's slot-state algorithm.
func DetermineStates(sys *config.System, bootToken string, resolve PathResolver) (*Topology, error) {
	if resolve == nil {
		resolve = defaultResolver
	}

	names := sortedSlotNames(sys)

	var bootedName string

	// Tie-break: bootname wins over name wins over device path. Which
	// slot wins when a token matches different slots by different
	// attributes varies between versions of the original implementation;
	// here the order is fixed and slots are scanned in sorted name order.
	for _, name := range names {
		if sys.Slots[name].Bootname == bootToken {
			bootedName = name
			break
		}
	}
	if bootedName == "" {
		for _, name := range names {
			if name == bootToken {
				bootedName = name
				break
			}
		}
	}
	if bootedName == "" {
		for _, name := range names {
			real, err := resolve(sys.Slots[name].Device)
			if err != nil {
				continue
			}
			if real == bootToken {
				bootedName = name
				break
			}
		}
	}

	topo := &Topology{System: sys, States: map[string]State{}}
	for _, name := range names {
		topo.States[name] = StateInactive
	}

	if bootedName == "" {
		if bootToken == tokenDevNFS || bootToken == tokenExternal {
			ext := &config.Slot{Name: externalSlotName, Class: externalSlotClass, Type: "virtual"}
			topo.External = ext
			topo.States[externalSlotName] = StateBooted
			return topo, nil
		}
		return nil, errs.New(errs.SlotNoSlotWithStateBooted, "no slot matches boot token %q", bootToken)
	}

	bootedRoot := sys.Slots[bootedName].RootName()
	for _, name := range names {
		slot := sys.Slots[name]
		if slot.RootName() == bootedRoot {
			if name == bootedName {
				topo.States[name] = StateBooted
			} else {
				topo.States[name] = StateActive
			}
		}
	}
	// A root slot itself keeps Booted even though its root-name check
	// above would also mark it Active; the loop above already handles
	// this since name == bootedName is checked first for every slot
	// including the booted one.

	return topo, nil
}

func sortedSlotNames(sys *config.System) []string {
	names := make([]string, 0, len(sys.Slots))
	for name := range sys.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
