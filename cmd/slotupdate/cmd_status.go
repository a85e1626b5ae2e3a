package main

import (
	"fmt"

	"github.com/mvo5/slotupdate/status"
)

// cmdStatus reports persisted slot status, either from the central
// status key-file or one file per slot, matching whichever mode
// config.System.StatusFile selects.
type cmdStatus struct {
}

func init() {
	var cmdStatusData cmdStatus
	_, _ = parser.AddCommand("status",
		"Show persisted slot status",
		"Print the last-known status of every configured slot",
		&cmdStatusData)
}

func (x *cmdStatus) Execute(args []string) error {
	rc, err := loadContext(false)
	if err != nil {
		return err
	}

	if rc.System.StatusFile == "per-slot" {
		for _, name := range sortedSlotNames(rc) {
			ss, err := status.ReadSlotStatus(status.PerSlotPath(rc.System.DataDirectory, name))
			if err != nil {
				return err
			}
			printSlotStatus(name, ss)
		}
		return nil
	}

	sys, err := status.LoadSystem(rc.System.StatusFile)
	if err != nil {
		return err
	}
	fmt.Printf("boot-id: %s\n", sys.BootID)
	for _, name := range sortedSlotNames(rc) {
		ss, ok := sys.Slots[name]
		if !ok {
			ss = &status.SlotStatus{}
		}
		printSlotStatus(name, ss)
	}
	return nil
}

func printSlotStatus(name string, ss *status.SlotStatus) {
	st := ss.Status
	if st == "" {
		st = "unknown"
	}
	fmt.Printf("%s: %s", name, st)
	if ss.ChecksumSHA != "" {
		fmt.Printf(" (%s %s)", ss.ChecksumAlgo, ss.ChecksumSHA)
	}
	fmt.Println()
}

func sortedSlotNames(rc *runContext) []string {
	names := make([]string, 0, len(rc.System.Slots))
	for n := range rc.System.Slots {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}
