package slot

import (
	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/manifest"
)

// TargetGroup maps a slot class to the single slot within it that this
// install will write to. A class with no safe candidate is simply absent
// from the map (spec.md §4.2: "yields no assignment").
type TargetGroup map[string]*config.Slot

// SelectTargetGroup implements spec.md §4.2's target-group selection:
// for every root class, pick an INACTIVE root slot (never the booted
// slot's own class member if that's the only option); for every child
// class, follow the chosen root's child. A class whose slots are all
// read-only or all booted yields no assignment.
func (t *Topology) SelectTargetGroup() TargetGroup {
	group := TargetGroup{}
	chosenRoots := map[string]*config.Slot{} // class -> chosen root slot

	for _, class := range t.System.RootClasses() {
		slots := t.System.SlotsByClass(class)

		if len(slots) == 1 && t.State(slots[0].Name) == StateBooted {
			// Single-slot class currently booted: nothing else to
			// write to, so this class gets no assignment.
			continue
		}

		var candidate *config.Slot
		for _, s := range slots {
			if t.State(s.Name) != StateInactive {
				continue
			}
			if s.Readonly {
				continue
			}
			candidate = s
			break
		}
		if candidate == nil {
			continue
		}
		chosenRoots[class] = candidate
		group[class] = candidate
	}

	for _, class := range t.System.ChildClasses() {
		slots := t.System.SlotsByClass(class)
		if len(slots) == 0 {
			continue
		}
		parentRoot := slots[0].Parent
		if parentRoot == nil {
			continue
		}
		chosenRoot, ok := chosenRoots[parentRoot.Class]
		if !ok {
			// non-redundant setup: no root was chosen for the
			// parent class, so the child class is unassigned too.
			continue
		}
		for _, s := range slots {
			if s.Parent != nil && s.Parent.Name == chosenRoot.Name {
				if s.Readonly {
					continue
				}
				group[class] = s
				break
			}
		}
	}

	return group
}

// Assignment is one manifest image bound to the slot it will be written
// to.
type Assignment struct {
	Image *manifest.Image
	Slot  *config.Slot
}

// MapImages implements spec.md §4.2's image-to-slot mapping: each image
// is matched to its class's target slot, resolving slotclass/variant
// collisions by preferring the device's configured variant, falling back
// to the variant-less image, and failing IMAGE_MAPPING if neither exists.
// Planning is all-or-nothing: on any failure no partial mapping is
// returned.
func MapImages(m *manifest.Manifest, group TargetGroup, deviceVariant string) ([]Assignment, error) {
	byClass := map[string][]*manifest.Image{}
	for _, img := range m.ImagesOrdered() {
		byClass[img.SlotClass] = append(byClass[img.SlotClass], img)
	}

	var assignments []Assignment
	usedSlots := map[string]bool{}

	for class, imgs := range byClass {
		target, ok := group[class]
		if !ok {
			return nil, errs.New(errs.InstallImageMapping, "image class %q has no target slot", class)
		}
		if usedSlots[target.Name] {
			return nil, errs.New(errs.InstallImageMapping, "slot %s would receive more than one image", target.Name)
		}

		chosen, err := pickVariant(imgs, deviceVariant)
		if err != nil {
			return nil, err
		}

		if target.Readonly {
			return nil, errs.New(errs.InstallReadonlySlot, "slot %s is read-only", target.Name)
		}

		assignments = append(assignments, Assignment{Image: chosen, Slot: target})
		usedSlots[target.Name] = true
	}

	return assignments, nil
}

func pickVariant(imgs []*manifest.Image, deviceVariant string) (*manifest.Image, error) {
	var withVariant, bare *manifest.Image
	for _, img := range imgs {
		switch {
		case deviceVariant != "" && img.Variant == deviceVariant:
			withVariant = img
		case img.Variant == "":
			bare = img
		}
	}
	if withVariant != nil {
		return withVariant, nil
	}
	if bare != nil {
		return bare, nil
	}
	return nil, errs.New(errs.InstallImageMapping, "no image matches device variant %q and no variant-less fallback exists", deviceVariant)
}
