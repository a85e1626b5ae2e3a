package handler

import (
	"context"
	"io"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

// hookHandler delegates the actual write to an external binary shipped
// inside the bundle (spec.md §4.3's "hook" handler): the handler script
// receives the verb "install", the slot device and the manifest's
// [handler] args on argv, and the verified image bytes on stdin.
type hookHandler struct {
	custom CustomHandler
	args   string
}

func (h *hookHandler) Name() string { return "hook:" + h.custom.Path }

func (h *hookHandler) Write(ctx context.Context, slot *config.Slot, src io.ReaderAt, size int64, report func(int)) error {
	runner := h.custom.Runner
	if runner == nil {
		runner = subprocess.Exec
	}
	streamer, ok := runner.(subprocess.StreamRunner)
	if !ok {
		return errs.New(errs.InstallHandler, "configured handler runner cannot stream stdin")
	}

	reader := io.NewSectionReader(src, 0, size)
	args := []string{"install", slot.Device}
	if h.args != "" {
		args = append(args, h.args)
	}

	if _, err := streamer.RunStreaming(ctx, reader, h.custom.Path, args...); err != nil {
		return errs.New(errs.InstallHandler, "handler %s: %v", h.custom.Path, err)
	}
	if report != nil {
		report(100)
	}
	return nil
}
