// Package uboot implements bootloader.Steerer for U-Boot's CONFIG_SUPPORT_RAW_INITRD
// style environment, reading and rewriting a flat name=value environment
// file the way partition/bootloader_uboot.go's modifyNameValueFile does:
// parse with goconfigparser for reads, but hand-rewrite line-by-line for
// writes so untouched lines and their ordering survive.
package uboot

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/mvo5/slotupdate/bootloader"
	"github.com/mvo5/slotupdate/errs"
)

const (
	primaryVar = "slotupdate_primary"
	statePrefix = "slotupdate_state_"
)

// Bootloader is a bootloader.Steerer backed by a U-Boot environment file.
type Bootloader struct {
	EnvFile string
}

// New returns a Steerer for the u-boot environment file at envFile (the
// teacher's default is /boot/uboot/snappy-system.txt).
func New(envFile string) *Bootloader {
	return &Bootloader{EnvFile: envFile}
}

func (u *Bootloader) Primary(ctx context.Context) (string, error) {
	return u.getVar(primaryVar)
}

func (u *Bootloader) SetPrimary(ctx context.Context, bootname string) error {
	return u.applyChanges(map[string]string{primaryVar: bootname})
}

func (u *Bootloader) State(ctx context.Context, bootname string) (bootloader.State, error) {
	v, err := u.getVar(statePrefix + bootname)
	if err != nil {
		return bootloader.StateUnknown, err
	}
	return parseState(v), nil
}

func (u *Bootloader) SetState(ctx context.Context, bootname string, state bootloader.State) error {
	return u.applyChanges(map[string]string{statePrefix + bootname: stateString(state)})
}

func (u *Bootloader) Mark(ctx context.Context, bootname string, mark bootloader.Mark) error {
	switch mark {
	case bootloader.MarkGood:
		return u.SetState(ctx, bootname, bootloader.StateOK)
	case bootloader.MarkBad:
		return u.SetState(ctx, bootname, bootloader.StateBad)
	case bootloader.MarkActive:
		if err := u.SetPrimary(ctx, bootname); err != nil {
			return err
		}
		return u.SetState(ctx, bootname, bootloader.StateTrying)
	default:
		return errs.New(errs.ConfigInvalidFormat, "unknown mark %v", mark)
	}
}

func (u *Bootloader) getVar(name string) (string, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadFile(u.EnvFile); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errs.New(errs.ConfigInvalidFormat, "read u-boot env %s: %v", u.EnvFile, err)
	}
	v, _ := cfg.Get("", name)
	return v, nil
}

// applyChanges rewrites u.EnvFile, replacing existing name=value lines
// in place and appending any name not already present, then renaming the
// new file over the original — the same pattern as the teacher's
// modifyNameValueFile/atomicFileUpdate pair.
func (u *Bootloader) applyChanges(changes map[string]string) error {
	lines, err := readLines(u.EnvFile)
	if err != nil && !os.IsNotExist(err) {
		return errs.New(errs.ConfigInvalidFormat, "read u-boot env %s: %v", u.EnvFile, err)
	}

	seen := map[string]bool{}
	for i, line := range lines {
		for name, value := range changes {
			if strings.HasPrefix(line, name+"=") {
				lines[i] = fmt.Sprintf("%s=%s", name, value)
				seen[name] = true
			}
		}
	}
	for name, value := range changes {
		if !seen[name] {
			lines = append(lines, fmt.Sprintf("%s=%s", name, value))
		}
	}

	tmp := u.EnvFile + ".new"
	if err := writeLines(tmp, lines); err != nil {
		return errs.New(errs.ConfigInvalidFormat, "write u-boot env: %v", err)
	}
	if err := os.Rename(tmp, u.EnvFile); err != nil {
		return errs.New(errs.ConfigInvalidFormat, "rename u-boot env into place: %v", err)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return w.Flush()
}

func parseState(v string) bootloader.State {
	switch v {
	case "ok":
		return bootloader.StateOK
	case "trying":
		return bootloader.StateTrying
	case "bad":
		return bootloader.StateBad
	default:
		return bootloader.StateUnknown
	}
}

func stateString(s bootloader.State) string {
	switch s {
	case bootloader.StateOK:
		return "ok"
	case bootloader.StateTrying:
		return "trying"
	case bootloader.StateBad:
		return "bad"
	default:
		return ""
	}
}
