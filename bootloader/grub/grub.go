// Package grub implements bootloader.Steerer on top of grub-editenv, the
// same tool partition/bootloader_grub.go shells out to: "list" to read
// the whole environment block (parsed with goconfigparser, following the
// teacher's own cfg.ReadString(output) use) and "set name=value" to write
// a single variable, with no in-process understanding of grubenv's binary
// layout.
package grub

import (
	"context"
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/mvo5/slotupdate/bootloader"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

const (
	primaryVar  = "slotupdate_primary"
	statePrefix = "slotupdate_state_"
)

// Bootloader is a bootloader.Steerer backed by grub-editenv.
type Bootloader struct {
	EnvFile string
	EnvCmd  string // defaults to "grub-editenv" if empty
	Runner  subprocess.Runner
}

// New returns a Steerer for the grub environment block at envFile (the
// teacher's default is /boot/grub/grubenv).
func New(envFile string) *Bootloader {
	return &Bootloader{EnvFile: envFile, EnvCmd: "grub-editenv", Runner: subprocess.Exec}
}

func (g *Bootloader) runner() subprocess.Runner {
	if g.Runner != nil {
		return g.Runner
	}
	return subprocess.Exec
}

func (g *Bootloader) cmd() string {
	if g.EnvCmd != "" {
		return g.EnvCmd
	}
	return "grub-editenv"
}

func (g *Bootloader) Primary(ctx context.Context) (string, error) {
	return g.getVar(ctx, primaryVar)
}

func (g *Bootloader) SetPrimary(ctx context.Context, bootname string) error {
	return g.setVar(ctx, primaryVar, bootname)
}

func (g *Bootloader) State(ctx context.Context, bootname string) (bootloader.State, error) {
	v, err := g.getVar(ctx, statePrefix+bootname)
	if err != nil {
		return bootloader.StateUnknown, err
	}
	return parseState(v), nil
}

func (g *Bootloader) SetState(ctx context.Context, bootname string, state bootloader.State) error {
	return g.setVar(ctx, statePrefix+bootname, stateString(state))
}

func (g *Bootloader) Mark(ctx context.Context, bootname string, mark bootloader.Mark) error {
	switch mark {
	case bootloader.MarkGood:
		return g.SetState(ctx, bootname, bootloader.StateOK)
	case bootloader.MarkBad:
		return g.SetState(ctx, bootname, bootloader.StateBad)
	case bootloader.MarkActive:
		if err := g.SetPrimary(ctx, bootname); err != nil {
			return err
		}
		return g.SetState(ctx, bootname, bootloader.StateTrying)
	default:
		return errs.New(errs.ConfigInvalidFormat, "unknown mark %v", mark)
	}
}

// getVar implements grub's "no get verb" workaround from the teacher:
// dump every variable with "list" and search locally.
func (g *Bootloader) getVar(ctx context.Context, name string) (string, error) {
	res, err := g.runner().Run(ctx, nil, g.cmd(), g.EnvFile, "list")
	if err != nil {
		return "", errs.New(errs.ConfigInvalidFormat, "grub-editenv list: %v", err)
	}

	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadString(string(res.Stdout)); err != nil {
		return "", errs.New(errs.ConfigInvalidFormat, "parse grub environment: %v", err)
	}
	v, _ := cfg.Get("", name)
	return v, nil
}

func (g *Bootloader) setVar(ctx context.Context, name, value string) error {
	arg := name + "=" + value
	if _, err := g.runner().Run(ctx, nil, g.cmd(), g.EnvFile, "set", arg); err != nil {
		return errs.New(errs.ConfigInvalidFormat, "grub-editenv set %s: %v", name, err)
	}
	return nil
}

func parseState(v string) bootloader.State {
	switch strings.TrimSpace(v) {
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
