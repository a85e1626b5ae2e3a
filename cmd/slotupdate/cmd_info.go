package main

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/mvo5/slotupdate/bundle"
)

// cmdInfo implements the supplemented read-only bundle inspection path
// (original_source/src/bundle.c's r_bundle_info): open, verify and parse
// a bundle's manifest without installing anything.
type cmdInfo struct {
	Positional struct {
		Bundle string `positional-arg-name:"bundle" description:"path to a bundle file"`
	} `positional-args:"yes" required:"yes"`
}

func init() {
	var cmdInfoData cmdInfo
	_, _ = parser.AddCommand("info",
		"Inspect a bundle without installing it",
		"Verify a bundle's signature and print its manifest",
		&cmdInfoData)
}

func (x *cmdInfo) Execute(args []string) error {
	rc, err := loadContext(true)
	if err != nil {
		return err
	}

	src, err := bundle.OpenLocal(x.Positional.Bundle)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := bundle.Inspect(src, rc.Keyring)
	if err != nil {
		return err
	}

	fmt.Printf("path:        %s\n", info.Path)
	fmt.Printf("size:        %s\n", humanize.Bytes(uint64(info.Size)))
	if info.HashTreeSize > 0 {
		fmt.Printf("hash tree:   %s\n", humanize.Bytes(uint64(info.HashTreeSize)))
	}
	fmt.Printf("signed:      %v\n", info.SignatureVerified)
	fmt.Printf("encrypted:   %v\n", info.WasEncrypted)
	fmt.Printf("signer:      %s\n", info.SignerFingerprint)
	fmt.Printf("compatible:  %s\n", info.Manifest.UpdateCompatible)
	fmt.Printf("version:     %s\n", info.Manifest.Version)
	fmt.Printf("build:       %s\n", info.Manifest.Build)

	if err := info.CheckCompatible(rc.System.Compatible); err != nil {
		fmt.Printf("installable: no (%v)\n", err)
	} else {
		fmt.Printf("installable: yes\n")
	}

	for _, img := range info.Manifest.ImagesOrdered() {
		fmt.Printf("  image %-20s class=%-10s variant=%-10s %s\n",
			img.Filename, img.SlotClass, img.Variant, humanize.Bytes(uint64(img.Checksum.Size)))
	}
	return nil
}
