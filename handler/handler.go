// Package handler implements spec.md §4.3's update handlers: the code
// that actually writes one manifest image onto its target slot. A
// handler is selected by (image type inferred from filename, slot type)
// and reports progress through the report callback passed to Write. The
// pre-install/post-install hooks around the write are run by package
// install, not here.
package handler

import (
	"context"
	"io"
	"strings"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/subprocess"
	"github.com/mvo5/slotupdate/manifest"
)

// Handler writes one image to one slot.
type Handler interface {
	// Name identifies the handler for logging and for manifest
	// [handler] filename overrides.
	Name() string
	// Write copies src (the image's verified byte stream) onto slot,
	// reporting progress via report (percent 0-100; report may be nil).
	Write(ctx context.Context, slot *config.Slot, src io.ReaderAt, size int64, report func(percent int)) error
}

// Registry dispatches to the handler for a given (image, slot) pair.
type Registry struct {
	byType map[string]Handler
	custom map[string]CustomHandler // keyed by manifest [handler] filename
}

// CustomHandler wraps an external hook-script handler (manifest
// [handler] filename + args), spec.md §4.3's "hook" update handler.
type CustomHandler struct {
	Path string
	Runner subprocess.Runner
}

// NewRegistry builds the default dispatch table: raw block copy,
// filesystem image write (with optional resize), and tarball extraction.
func NewRegistry() *Registry {
	return &Registry{
		byType: map[string]Handler{
			"raw":        &RawHandler{},
			"filesystem": &FilesystemHandler{},
			"tar":        &TarballHandler{},
			"tarball":    &TarballHandler{},
		},
		custom: map[string]CustomHandler{},
	}
}

// RegisterCustom adds an external-hook handler under the manifest's
// [handler] filename key, so a bundle that ships its own update handler
// binary can be dispatched to exactly as spec.md §4.3 describes.
func (r *Registry) RegisterCustom(filename string, h CustomHandler) {
	r.custom[filename] = h
}

// Select picks the handler for img against target, following spec.md
// §4.3: an explicit manifest [handler] filename always wins; otherwise
// dispatch is by slot type, falling back to inferring from the image
// filename's extension for "raw" vs "filesystem" vs "tar".
func (r *Registry) Select(m *manifest.Manifest, img *manifest.Image, target *config.Slot) (Handler, error) {
	if m.HandlerName != "" {
		if c, ok := r.custom[m.HandlerName]; ok {
			return &hookHandler{custom: c, args: m.HandlerArgs}, nil
		}
		return nil, errs.New(errs.UpdateNoHandler, "manifest requests handler %q, which is not registered", m.HandlerName)
	}

	// An image with the install hook flag set never falls back to
	// slot-type dispatch. It reaches the hook-script handler only through
	// a configured [handler] filename (the branch above); without one it
	// is rejected.
	if img.Hooks.Install {
		return nil, errs.New(errs.UpdateNoHandler, "image %s has the install hook flag set but no [handler] filename is configured", img.Filename)
	}

	key := target.Type
	if key == "" {
		key = inferType(img.Filename)
	}
	if h, ok := r.byType[key]; ok {
		return h, nil
	}
	return nil, errs.New(errs.UpdateNoHandler, "no handler for slot type %q (image %s)", target.Type, img.Filename)
}

func inferType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".tar"), strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tar.zst"):
		return "tar"
	case strings.HasSuffix(filename, ".ext4"), strings.HasSuffix(filename, ".ext2"), strings.HasSuffix(filename, ".squashfs"):
		return "filesystem"
	default:
		return "raw"
	}
}
